package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bluewing-labs/tablevoice/src/convo"
	"github.com/bluewing-labs/tablevoice/src/delivery"
	"github.com/bluewing-labs/tablevoice/src/dialog"
	"github.com/bluewing-labs/tablevoice/src/events"
	"github.com/bluewing-labs/tablevoice/src/llm"
)

// fakeSession records every command issued against it
type fakeSession struct {
	mu       sync.Mutex
	callID   string
	configs  []events.SessionConfig
	says     []events.SayRequest
	streamed []string
	flushes  int
	hangups  int
}

func newFakeSession(callID string) *fakeSession {
	return &fakeSession{callID: callID}
}

func (f *fakeSession) CallID() string { return f.callID }

func (f *fakeSession) Configure(cfg events.SessionConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.configs = append(f.configs, cfg)
	return nil
}

func (f *fakeSession) Say(req events.SayRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.says = append(f.says, req)
	return nil
}

func (f *fakeSession) StreamText(text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.streamed = append(f.streamed, text)
	return nil
}

func (f *fakeSession) Flush() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushes++
	return nil
}

func (f *fakeSession) Hangup() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hangups++
	return nil
}

func (f *fakeSession) spokenTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.says))
	for _, say := range f.says {
		out = append(out, say.Text)
	}
	return out
}

// fakeLLM implements llm.Client
type fakeLLM struct {
	mu    sync.Mutex
	reply string
	err   error
	calls int
}

func (f *fakeLLM) Complete(_ context.Context, _ []convo.Turn) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func (f *fakeLLM) completions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type harness struct {
	controller *Controller
	store      *convo.Store
	client     *fakeLLM
}

func newHarness(client *fakeLLM) *harness {
	store := convo.NewStore("Ты администратор ресторана «Белое крыло».")
	return &harness{
		controller: NewController(ControllerConfig{
			Store:     store,
			Policy:    dialog.NewPhrasePolicy(dialog.PhrasePolicyConfig{}),
			Responder: llm.NewResponder(llm.ResponderConfig{Store: store, Client: client}),
			Strategy:  newBatchedStrategyForTest(),
		}),
		store:  store,
		client: client,
	}
}

// newBatchedStrategyForTest builds a batched strategy with the default texts
func newBatchedStrategyForTest() delivery.Strategy {
	return delivery.NewBatchedStrategy(delivery.BatchedConfig{
		Session: events.SessionConfig{Voice: "alena", Language: "ru-RU", RecognitionLanguage: "ru-RU"},
	})
}

func recognized(text string) events.Recognition {
	return events.Recognition{Alternatives: []events.Alternative{{Transcript: text}}}
}

func TestSessionStartGreetsAndListens(t *testing.T) {
	h := newHarness(&fakeLLM{})
	sess := newFakeSession("CA001")

	h.controller.HandleSessionStart(context.Background(), sess)

	require.Len(t, sess.configs, 1, "delivery must be configured before speaking")
	require.Len(t, sess.says, 1)
	assert.Equal(t, DefaultGreeting, sess.says[0].Text)

	state, ok := h.controller.CallState("CA001")
	require.True(t, ok)
	assert.Equal(t, StateListening, state)
	assert.True(t, h.store.Has("CA001"))
}

// Scenario: the caller says goodbye right after the greeting. The call
// closes without any completion round trip.
func TestEndPhraseClosesCallWithoutModelCall(t *testing.T) {
	h := newHarness(&fakeLLM{reply: "should never be spoken"})
	sess := newFakeSession("CA001")

	h.controller.HandleSessionStart(context.Background(), sess)
	h.controller.HandleRecognition(context.Background(), sess, recognized("до свидания"))

	assert.Zero(t, h.client.completions(), "no model call on an end phrase")
	assert.False(t, h.store.Has("CA001"), "history must be deleted")

	_, ok := h.controller.CallState("CA001")
	assert.False(t, ok, "call state must be released")

	texts := sess.spokenTexts()
	require.Len(t, texts, 2)
	assert.Equal(t, DefaultFarewell, texts[1])
	assert.True(t, sess.says[1].HangupAfter)
}

// Scenario: a normal booking turn. The model sees system + user turns,
// the reply is spoken and the call returns to listening.
func TestNormalTurnRoundTrip(t *testing.T) {
	h := newHarness(&fakeLLM{reply: "На какое время вам столик?"})
	sess := newFakeSession("CA001")

	h.controller.HandleSessionStart(context.Background(), sess)
	h.controller.HandleRecognition(context.Background(), sess, recognized("хочу столик на двоих"))

	assert.Equal(t, 1, h.client.completions())

	turns := h.store.Turns("CA001")
	require.Len(t, turns, 3)
	assert.Equal(t, convo.RoleSystem, turns[0].Role)
	assert.Equal(t, convo.RoleUser, turns[1].Role)
	assert.Equal(t, convo.RoleAssistant, turns[2].Role)

	state, ok := h.controller.CallState("CA001")
	require.True(t, ok)
	assert.Equal(t, StateListening, state)

	texts := sess.spokenTexts()
	require.Len(t, texts, 2)
	assert.Equal(t, "На какое время вам столик?", texts[1])
}

// Scenario: the provider goes down. The fallback apology is spoken,
// the conversation continues, and nothing from the failed exchange is
// recorded as an assistant turn.
func TestProviderFailureSpeaksFallbackAndContinues(t *testing.T) {
	h := newHarness(&fakeLLM{err: errors.New("503 from provider")})
	sess := newFakeSession("CA001")

	h.controller.HandleSessionStart(context.Background(), sess)
	h.controller.HandleRecognition(context.Background(), sess, recognized("хочу столик"))

	texts := sess.spokenTexts()
	require.Len(t, texts, 2)
	assert.Equal(t, llm.DefaultFallback, texts[1])

	state, ok := h.controller.CallState("CA001")
	require.True(t, ok)
	assert.Equal(t, StateListening, state, "the call keeps going after a provider failure")

	turns := h.store.Turns("CA001")
	require.Len(t, turns, 2, "failed attempt must not record an assistant turn")
	assert.Equal(t, convo.RoleUser, turns[1].Role)
}

func TestBookingConfirmationEndsCall(t *testing.T) {
	h := newHarness(&fakeLLM{reply: "Отлично, столик забронирован на 19:00. Ждем вас!"})
	sess := newFakeSession("CA001")

	h.controller.HandleSessionStart(context.Background(), sess)
	h.controller.HandleRecognition(context.Background(), sess, recognized("да, на семь вечера, подтверждаю"))

	assert.False(t, h.store.Has("CA001"))
	_, ok := h.controller.CallState("CA001")
	assert.False(t, ok)

	texts := sess.spokenTexts()
	require.Len(t, texts, 2)
	assert.Contains(t, texts[1], "столик забронирован")
	assert.Contains(t, texts[1], DefaultFarewell)
	assert.True(t, sess.says[1].HangupAfter)
}

func TestEmptyTranscriptReprompts(t *testing.T) {
	h := newHarness(&fakeLLM{})
	sess := newFakeSession("CA001")

	h.controller.HandleSessionStart(context.Background(), sess)
	h.controller.HandleRecognition(context.Background(), sess, events.Recognition{})

	assert.Zero(t, h.client.completions())

	state, ok := h.controller.CallState("CA001")
	require.True(t, ok)
	assert.Equal(t, StateListening, state)

	texts := sess.spokenTexts()
	require.Len(t, texts, 2)
	assert.Equal(t, delivery.DefaultRepromptText, texts[1])
}

func TestSecondEmptyTranscriptGivesUp(t *testing.T) {
	h := newHarness(&fakeLLM{})
	sess := newFakeSession("CA001")

	h.controller.HandleSessionStart(context.Background(), sess)
	h.controller.HandleRecognition(context.Background(), sess, events.Recognition{})
	h.controller.HandleRecognition(context.Background(), sess, events.Recognition{})

	assert.False(t, h.store.Has("CA001"), "giving up must release the history")
	_, ok := h.controller.CallState("CA001")
	assert.False(t, ok)
}

func TestTerminalStatusTearsDownImmediately(t *testing.T) {
	h := newHarness(&fakeLLM{})
	sess := newFakeSession("CA001")

	h.controller.HandleSessionStart(context.Background(), sess)
	h.controller.HandleStatus(context.Background(), sess, events.StatusCompleted)

	assert.False(t, h.store.Has("CA001"))
	assert.Zero(t, h.controller.ActiveCalls())
}

func TestNonTerminalStatusIsIgnored(t *testing.T) {
	h := newHarness(&fakeLLM{})
	sess := newFakeSession("CA001")

	h.controller.HandleSessionStart(context.Background(), sess)
	h.controller.HandleStatus(context.Background(), sess, events.StatusAnswered)

	assert.True(t, h.store.Has("CA001"))
	assert.Equal(t, 1, h.controller.ActiveCalls())
}

func TestSessionCloseReleasesEverything(t *testing.T) {
	h := newHarness(&fakeLLM{})
	sess := newFakeSession("CA001")

	h.controller.HandleSessionStart(context.Background(), sess)
	h.controller.HandleSessionClose(sess)

	assert.False(t, h.store.Has("CA001"))
	assert.Zero(t, h.controller.ActiveCalls())
	assert.Zero(t, h.store.ActiveCalls(), "a leaked history is a defect")
}

func TestSessionErrorLeavesCallInPlace(t *testing.T) {
	h := newHarness(&fakeLLM{})
	sess := newFakeSession("CA001")

	h.controller.HandleSessionStart(context.Background(), sess)
	h.controller.HandleSessionError(sess, errors.New("read: connection reset"))

	assert.True(t, h.store.Has("CA001"), "errors are logged, teardown belongs to the transport")
}

func TestRecognitionForUnknownCallIsDropped(t *testing.T) {
	h := newHarness(&fakeLLM{})
	sess := newFakeSession("CA404")

	assert.NotPanics(t, func() {
		h.controller.HandleRecognition(context.Background(), sess, recognized("алло"))
	})
	assert.Zero(t, h.client.completions())
}

// blockingResponder parks Reply until released, standing in for a slow
// completion round trip
type blockingResponder struct {
	entered chan struct{}
	release chan struct{}
	reply   string
}

func (b *blockingResponder) Reply(_ context.Context, _, _ string) string {
	close(b.entered)
	<-b.release
	return b.reply
}

func TestRecognitionDuringProcessingIsDropped(t *testing.T) {
	store := convo.NewStore("persona")
	responder := &blockingResponder{
		entered: make(chan struct{}),
		release: make(chan struct{}),
		reply:   "Уточните, пожалуйста, дату.",
	}
	controller := NewController(ControllerConfig{
		Store:     store,
		Policy:    dialog.NewPhrasePolicy(dialog.PhrasePolicyConfig{}),
		Responder: responder,
		Strategy:  newBatchedStrategyForTest(),
	})
	sess := newFakeSession("CA001")

	controller.HandleSessionStart(context.Background(), sess)

	done := make(chan struct{})
	go func() {
		controller.HandleRecognition(context.Background(), sess, recognized("столик на завтра"))
		close(done)
	}()

	<-responder.entered
	state, ok := controller.CallState("CA001")
	require.True(t, ok)
	require.Equal(t, StateProcessing, state)

	// A second utterance lands while the completion is in flight
	controller.HandleRecognition(context.Background(), sess, recognized("алло, вы тут?"))

	close(responder.release)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("first recognition never finished")
	}

	state, ok = controller.CallState("CA001")
	require.True(t, ok)
	assert.Equal(t, StateListening, state)
	assert.Equal(t, []string{DefaultGreeting, "Уточните, пожалуйста, дату."}, sess.spokenTexts(),
		"the racing utterance must not produce a second exchange")
}

func TestCallEndingWhileProcessingDiscardsReply(t *testing.T) {
	store := convo.NewStore("persona")
	responder := &blockingResponder{
		entered: make(chan struct{}),
		release: make(chan struct{}),
		reply:   "поздний ответ",
	}
	controller := NewController(ControllerConfig{
		Store:     store,
		Policy:    dialog.NewPhrasePolicy(dialog.PhrasePolicyConfig{}),
		Responder: responder,
		Strategy:  newBatchedStrategyForTest(),
	})
	sess := newFakeSession("CA001")

	controller.HandleSessionStart(context.Background(), sess)

	done := make(chan struct{})
	go func() {
		controller.HandleRecognition(context.Background(), sess, recognized("столик на завтра"))
		close(done)
	}()

	<-responder.entered
	controller.HandleStatus(context.Background(), sess, events.StatusFailed)
	close(responder.release)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("recognition handler never finished")
	}

	assert.False(t, store.Has("CA001"))
	assert.Len(t, sess.spokenTexts(), 1, "only the greeting may have been spoken")
}

func TestConcurrentCallsAreIsolated(t *testing.T) {
	h := newHarness(&fakeLLM{reply: "Хорошо, уточните время."})
	first := newFakeSession("CA001")
	second := newFakeSession("CA002")

	h.controller.HandleSessionStart(context.Background(), first)
	h.controller.HandleSessionStart(context.Background(), second)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		h.controller.HandleRecognition(context.Background(), first, recognized("столик на двоих"))
	}()
	go func() {
		defer wg.Done()
		h.controller.HandleRecognition(context.Background(), second, recognized("до свидания"))
	}()
	wg.Wait()

	// First call is still alive with a full exchange recorded
	require.Len(t, h.store.Turns("CA001"), 3)
	state, ok := h.controller.CallState("CA001")
	require.True(t, ok)
	assert.Equal(t, StateListening, state)

	// Second call ended and left nothing behind
	assert.False(t, h.store.Has("CA002"))
	_, ok = h.controller.CallState("CA002")
	assert.False(t, ok)

	assert.Equal(t, 1, h.store.ActiveCalls())
}

// After any sequence of turns, the history holds one leading system
// turn and strictly alternating user/assistant turns.
func TestHistoryAlternationInvariant(t *testing.T) {
	h := newHarness(&fakeLLM{reply: "Уточните, пожалуйста."})
	sess := newFakeSession("CA001")

	h.controller.HandleSessionStart(context.Background(), sess)
	for _, utterance := range []string{"столик на двоих", "на субботу", "на семь вечера"} {
		h.controller.HandleRecognition(context.Background(), sess, recognized(utterance))
	}

	turns := h.store.Turns("CA001")
	require.Len(t, turns, 7)
	require.Equal(t, convo.RoleSystem, turns[0].Role)
	for i, turn := range turns[1:] {
		if i%2 == 0 {
			assert.Equal(t, convo.RoleUser, turn.Role, "turn %d", i+1)
		} else {
			assert.Equal(t, convo.RoleAssistant, turn.Role, "turn %d", i+1)
		}
	}
}

func TestStreamedStrategyEndToEnd(t *testing.T) {
	store := convo.NewStore("persona")
	client := &fakeLLM{reply: "Столик забронирован, ждем вас!"}
	controller := NewController(ControllerConfig{
		Store:     store,
		Policy:    dialog.NewPhrasePolicy(dialog.PhrasePolicyConfig{}),
		Responder: llm.NewResponder(llm.ResponderConfig{Store: store, Client: client}),
		Strategy: delivery.NewStreamedStrategy(delivery.StreamedConfig{
			MinHangupDelay: time.Millisecond,
			MaxHangupDelay: 2 * time.Millisecond,
		}),
	})
	sess := newFakeSession("CA001")

	controller.HandleSessionStart(context.Background(), sess)
	require.Len(t, sess.configs, 1)
	assert.True(t, sess.configs[0].BargeIn)
	assert.Equal(t, []string{DefaultGreeting}, sess.streamed)

	controller.HandleRecognition(context.Background(), sess, recognized("да, подтверждаю"))

	assert.Equal(t, 1, sess.hangups, "confirmed booking must hang up")
	assert.False(t, store.Has("CA001"))
	assert.Contains(t, sess.streamed[len(sess.streamed)-1], DefaultFarewell)
}
