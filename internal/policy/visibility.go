package policy

import "github.com/fathima-sithara/connectify/internal/domain"

// Visible returns the messages viewer has not hidden, in input order. The input is not modified.
func Visible(messages []*domain.Message, viewer string) []*domain.Message {
	out := make([]*domain.Message, 0, len(messages))
	for _, m := range messages {
		if m == nil || m.IsDeletedFor(viewer) {
			continue
		}
		out = append(out, m)
	}
	return out
}
