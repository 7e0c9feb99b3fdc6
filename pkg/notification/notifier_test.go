package notification

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AutonomosCdM/vigia-sub003/internal/taxonomy"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (f *fakeSender) Send(_ context.Context, _, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, text)
	return nil
}

type fakeAudit struct {
	mu      sync.Mutex
	entries []string
}

func (f *fakeAudit) Emit(_ context.Context, tokenID, action, outcome, _ string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, tokenID+":"+action+":"+outcome)
}

func (f *fakeAudit) has(s string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.entries {
		if e == s {
			return true
		}
	}
	return false
}

func TestNotifier_SendRendersTemplateAndAudits(t *testing.T) {
	sender := &fakeSender{}
	audit := &fakeAudit{}
	n := New(sender, audit)
	n.RegisterTemplate("urgent_case", "Case {{alias}} needs review: grade {{grade}}")

	err := n.Send(context.Background(), Request{
		TokenID: "tok-1", MessageTemplateID: "urgent_case",
		TemplateParams: map[string]string{"alias": "Batman", "grade": "3"},
	})
	require.NoError(t, err)
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "Case Batman needs review: grade 3", sender.sent[0])
	assert.True(t, audit.has("tok-1:notification_sent:ok"))
}

func TestNotifier_SendUnknownTemplateIsNonRetryable(t *testing.T) {
	n := New(&fakeSender{}, &fakeAudit{})
	err := n.Send(context.Background(), Request{TokenID: "tok-1", MessageTemplateID: "missing"})
	require.Error(t, err)
	assert.Equal(t, taxonomy.NonRetryable, taxonomy.Classify(err))
}

func TestNotifier_SendRejectsHospitalIdentityParam(t *testing.T) {
	n := New(&fakeSender{}, &fakeAudit{})
	n.RegisterTemplate("t", "hi {{full_name}}")

	err := n.Send(context.Background(), Request{
		TokenID: "tok-1", MessageTemplateID: "t",
		TemplateParams: map[string]string{"full_name": "Bruce Wayne"},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrForbiddenParam))
	assert.Equal(t, taxonomy.NonRetryable, taxonomy.Classify(err))
}

func TestNotifier_SendFailureIsTransient(t *testing.T) {
	sender := &fakeSender{err: errors.New("slack unavailable")}
	audit := &fakeAudit{}
	n := New(sender, audit)
	n.RegisterTemplate("t", "hello")

	err := n.Send(context.Background(), Request{TokenID: "tok-1", MessageTemplateID: "t"})
	require.Error(t, err)
	assert.Equal(t, taxonomy.Transient, taxonomy.Classify(err))
	assert.True(t, audit.has("tok-1:notification_failed:error"))
}
