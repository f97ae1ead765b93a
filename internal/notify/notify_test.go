package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failing struct{}

func (failing) Notify(context.Context, Notification) error { return errors.New("sink down") }

func TestHub_DeliversToConversationSubscribers(t *testing.T) {
	h := NewHub(nil)
	ch, unsubscribe := h.Subscribe("c1")
	other, unsubscribeOther := h.Subscribe("c2")
	defer unsubscribeOther()

	require.NoError(t, h.Notify(context.Background(), Notification{ConversationID: "c1", Type: KindReengageWarning}))

	n := <-ch
	assert.Equal(t, KindReengageWarning, n.Type)
	select {
	case <-other:
		t.Fatal("other conversation should not receive the notification")
	default:
	}

	unsubscribe()
	unsubscribe()
	assert.Equal(t, 0, h.Subscribers("c1"))
	_, open := <-ch
	assert.False(t, open)
}

func TestHub_DropsForSlowSubscriber(t *testing.T) {
	h := NewHub(nil)
	_, unsubscribe := h.Subscribe("c1")
	defer unsubscribe()

	for i := 0; i < 40; i++ {
		require.NoError(t, h.Notify(context.Background(), Notification{ConversationID: "c1"}))
	}
}

func TestMulti_JoinsErrors(t *testing.T) {
	h := NewHub(nil)
	ch, unsubscribe := h.Subscribe("c1")
	defer unsubscribe()

	err := Multi{h, failing{}, nil}.Notify(context.Background(), Notification{ConversationID: "c1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sink down")
	assert.Len(t, ch, 1, "healthy sinks still receive the event")
}

type recordingEscalator struct{ got []Escalation }

func (r *recordingEscalator) Escalate(_ context.Context, e Escalation) error {
	r.got = append(r.got, e)
	return nil
}

type failingEscalator struct{}

func (failingEscalator) Escalate(context.Context, Escalation) error { return errors.New("pager down") }

func TestEscalators_DeliversToEverySink(t *testing.T) {
	a, b := &recordingEscalator{}, &recordingEscalator{}

	err := Escalators{a, failingEscalator{}, nil, b}.Escalate(context.Background(),
		Escalation{ConversationID: "c1", Reason: "fallback"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "pager down")
	assert.Len(t, a.got, 1)
	assert.Len(t, b.got, 1)
	assert.Equal(t, "fallback", b.got[0].Reason)
}
