package events

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubjects(t *testing.T) {
	assert.Equal(t, "ecolojia.product.p1.created", SubjectProductCreated("p1"))
	assert.Equal(t, "ecolojia.product.p1.updated", SubjectProductUpdated("p1"))
	assert.Equal(t, "ecolojia.product.p1.deleted", SubjectProductDeleted("p1"))
	assert.Equal(t, "ecolojia.product.p1.scored", SubjectProductScored("p1"))
}

func TestParseProductSubject(t *testing.T) {
	tests := []struct {
		subject    string
		wantID     string
		wantAction string
		wantOK     bool
	}{
		{"ecolojia.product.abc-123.scored", "abc-123", "scored", true},
		{SubjectProductDeleted("x"), "x", "deleted", true},
		{"ecolojia.product.", "", "", false},
		{"ecolojia.product.abc", "", "", false},
		{"ecolojia.product.abc.", "", "", false},
		{"swarm.task.1.created", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.subject, func(t *testing.T) {
			id, action, ok := ParseProductSubject(tt.subject)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantID, id)
			assert.Equal(t, tt.wantAction, action)
		})
	}
}

type failingClient struct{ calls int }

func (f *failingClient) Publish(string, interface{}) error {
	f.calls++
	return errors.New("nats down")
}
func (f *failingClient) Subscribe(string, func(string, []byte)) error { return nil }
func (f *failingClient) Close()                                      {}

func TestPublishBestEffort(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	assert.NotPanics(t, func() {
		PublishBestEffort(nil, logger, "s", nil)
	})

	c := &failingClient{}
	PublishBestEffort(c, logger, SubjectProductCreated("p1"), ProductEvent{ProductID: "p1"})
	assert.Equal(t, 1, c.calls)
}

func TestDurableName(t *testing.T) {
	assert.Equal(t, "searchsync_ecolojia_product__", durableName("searchsync", SubjectAllProducts))
	assert.NotContains(t, durableName("api server", "a.*.b"), ".")
}
