package instructions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFetcher struct {
	calls int
	resp  Response
}

func (f *fakeFetcher) FetchInstructions(sessionID, phase string, gate map[string]any) (Response, error) {
	f.calls++
	return f.resp, nil
}

type fakeSender struct {
	sent []string
}

func (s *fakeSender) SendSessionUpdate(instructions string) error {
	s.sent = append(s.sent, instructions)
	return nil
}

func TestRefresh_SendsOnFirstCall(t *testing.T) {
	fetcher := &fakeFetcher{resp: Response{Instructions: "be kind", Phase: "intro"}}
	sender := &fakeSender{}
	s := New(Config{SessionID: "sess-1", Fetcher: fetcher, Sender: sender})

	require.NoError(t, s.Refresh("session.start", "intro", nil))
	assert.Len(t, sender.sent, 1)
}

func TestRefresh_IdenticalResultSendsOnce(t *testing.T) {
	fetcher := &fakeFetcher{resp: Response{Instructions: "be kind", Phase: "intro"}}
	sender := &fakeSender{}
	s := New(Config{SessionID: "sess-1", Fetcher: fetcher, Sender: sender})

	require.NoError(t, s.Refresh("session.start", "intro", nil))
	require.NoError(t, s.Refresh("gate.mutation", "intro", nil))

	assert.Len(t, sender.sent, 1, "identical instructions must not be resent")
	assert.Equal(t, 2, fetcher.calls, "each trigger still fetches")
}

func TestRefresh_ChangedPhaseSendsAgain(t *testing.T) {
	fetcher := &fakeFetcher{resp: Response{Instructions: "be kind", Phase: "intro"}}
	sender := &fakeSender{}
	s := New(Config{SessionID: "sess-1", Fetcher: fetcher, Sender: sender})

	require.NoError(t, s.Refresh("session.start", "intro", nil))
	fetcher.resp.Phase = "consent"
	require.NoError(t, s.Refresh("phase.change", "consent", nil))

	assert.Len(t, sender.sent, 2)
}
