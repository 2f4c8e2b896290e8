package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyAttachment(t *testing.T) {
	cases := map[string]string{
		"voice.M4A":    AttachmentAudio,
		"clip.webm":    AttachmentAudio,
		"report.pdf":   AttachmentPDF,
		"photo.JPEG":   AttachmentImage,
		"anim.gif":     AttachmentImage,
		"notes.txt":    AttachmentText,
		"no-extension": AttachmentText,
	}
	for name, want := range cases {
		assert.Equal(t, want, ClassifyAttachment(name), name)
	}
}

func TestNormalizeAttachment(t *testing.T) {
	a, err := NormalizeAttachment(&Attachment{URL: " /uploads/a.png "})
	require.NoError(t, err)
	assert.Equal(t, "/uploads/a.png", a.URL)
	assert.Equal(t, AttachmentImage, a.Type)

	_, err = NormalizeAttachment(&Attachment{URL: "x", Type: "video"})
	assert.True(t, errors.Is(err, ErrInvalidInput))

	_, err = NormalizeAttachment(&Attachment{Type: "pdf"})
	assert.True(t, errors.Is(err, ErrInvalidInput))

	a, err = NormalizeAttachment(nil)
	assert.NoError(t, err)
	assert.Nil(t, a)
}

func TestMessageCloneIsDeep(t *testing.T) {
	now := time.Now()
	m := &Message{ID: "m1", Attachment: &Attachment{URL: "u"}, EditedAt: &now, DeletedFor: []string{"a"}}
	c := m.Clone()
	c.DeletedFor[0] = "b"
	c.Attachment.URL = "v"
	assert.Equal(t, "a", m.DeletedFor[0])
	assert.Equal(t, "u", m.Attachment.URL)
	assert.True(t, m.IsDeletedFor("a"))
	assert.False(t, c.IsDeletedFor("a"))
}

func TestMessageBetween(t *testing.T) {
	m := &Message{Sender: "a", Recipient: "b"}
	assert.True(t, m.Between("a", "b"))
	assert.True(t, m.Between("b", "a"))
	assert.False(t, m.Between("a", "c"))
	assert.True(t, m.Involves("b"))
	assert.False(t, m.Involves("c"))
}
