package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chorus/internal/chat"
	"chorus/pkg/logger"
)

type published struct {
	subject string
	data    []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (p *fakePublisher) Publish(subject string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, published{subject, data})
	return nil
}

var to = chat.Target{RoomID: "r1", UserID: "u1"}

func TestNATSNotifierSubjects(t *testing.T) {
	pub := &fakePublisher{}
	n := NewNATSNotifier(pub, "")
	ctx := context.Background()

	require.NoError(t, n.SendText(ctx, to, "kimi", "你好"))
	require.NoError(t, n.SendMedia(ctx, to, "kimi", chat.Media{Kind: chat.MediaImage, URL: "https://img"}))
	require.NoError(t, n.SendMenu(ctx, to, chat.Menu{Items: []chat.MenuItem{{Label: "清空上文", Command: "清空上文"}}}))
	require.NoError(t, n.SendTyping(ctx, to))

	want := []string{
		"chorus.room.r1.text",
		"chorus.room.r1.media",
		"chorus.room.r1.menu",
		"chorus.room.r1.typing",
	}
	require.Len(t, pub.msgs, len(want))
	for i, w := range want {
		assert.Equal(t, w, pub.msgs[i].subject)
	}

	var env Envelope
	require.NoError(t, json.Unmarshal(pub.msgs[0].data, &env))
	assert.Equal(t, KindText, env.Kind)
	assert.Equal(t, "kimi", env.Character)
	assert.Equal(t, "你好", env.Text)
	assert.Equal(t, "u1", env.UserID)

	require.NoError(t, json.Unmarshal(pub.msgs[2].data, &env))
	require.NotNil(t, env.Menu)
	assert.Equal(t, "清空上文", env.Menu.Items[0].Command)
}

func TestNATSNotifierPrefixAndErrors(t *testing.T) {
	pub := &fakePublisher{err: errors.New("boom")}
	n := NewNATSNotifier(pub, "bots")

	assert.Equal(t, "bots._.text", n.Subject("", KindText))
	err := n.SendText(context.Background(), to, "", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "publish text notification")
	assert.NoError(t, n.Close())
}

func TestMultiFansOutAndJoinsErrors(t *testing.T) {
	a, b := NewRecorder(), NewRecorder()
	b.Err = errors.New("down")
	m := Multi{a, nil, b}

	err := m.SendText(context.Background(), to, "kimi", "hi")
	require.Error(t, err)
	assert.Equal(t, []string{"hi"}, a.Texts())
	assert.Equal(t, []string{"hi"}, b.Texts())

	require.NoError(t, Multi{a}.SendTyping(context.Background(), to))
	assert.Len(t, a.OfKind(KindTyping), 1)
}

func TestRecorderHookAndReset(t *testing.T) {
	r := NewRecorder()
	var seen []string
	r.OnSend = func(m Message) { seen = append(seen, m.Kind) }

	ctx := context.Background()
	_ = r.SendMenu(ctx, to, chat.Menu{Header: "h"})
	_ = r.SendMedia(ctx, to, "kimi", chat.Media{Kind: chat.MediaVoice, URL: "u"})

	assert.Equal(t, []string{KindMenu, KindMedia}, seen)
	assert.Equal(t, "u", r.OfKind(KindMedia)[0].Media.URL)
	r.Reset()
	assert.Empty(t, r.Messages())
}

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	logger.SetOutput(&buf)

	n := NewLogNotifier()
	require.NoError(t, n.SendMenu(context.Background(), to, chat.Menu{Header: "ops", Items: []chat.MenuItem{{Label: "踢掉Kimi"}}}))

	line := buf.String()
	assert.True(t, strings.Contains(line, `"kind":"menu"`), line)
	assert.Contains(t, line, "踢掉Kimi")
	assert.Contains(t, line, `"component":"notify"`)
}
