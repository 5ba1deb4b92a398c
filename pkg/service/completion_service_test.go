package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/choraleia/helpdesk/pkg/orchestrator"
	einoModel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubChatModel struct {
	reply *schema.Message
	err   error
	block bool
	input []*schema.Message
}

func (m *stubChatModel) Generate(ctx context.Context, input []*schema.Message, _ ...einoModel.Option) (*schema.Message, error) {
	m.input = input
	if m.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return m.reply, m.err
}

func (m *stubChatModel) Stream(context.Context, []*schema.Message, ...einoModel.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not supported")
}

func TestCompletionServiceMapsUsage(t *testing.T) {
	reply := schema.AssistantMessage("  Hello there.  ", nil)
	reply.ResponseMeta = &schema.ResponseMeta{Usage: &schema.TokenUsage{PromptTokens: 12, CompletionTokens: 3, TotalTokens: 15}}
	stub := &stubChatModel{reply: reply}
	svc := NewCompletionService(stub, time.Second)

	c, err := svc.InvokeWithSystemPrompt(context.Background(), "be nice", "hi")
	require.NoError(t, err)
	assert.Equal(t, "Hello there.", c.Content)
	require.NotNil(t, c.Usage)
	assert.Equal(t, 15, c.Usage.TotalTokens)

	require.Len(t, stub.input, 2)
	assert.Equal(t, schema.System, stub.input[0].Role)
	assert.Equal(t, schema.User, stub.input[1].Role)
}

func TestCompletionServiceTimeoutIsTransient(t *testing.T) {
	svc := NewCompletionService(&stubChatModel{block: true}, 20*time.Millisecond)

	_, err := svc.Invoke(context.Background(), "hi")
	require.Error(t, err)
	assert.True(t, orchestrator.IsTransient(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCompletionServiceWrapsModelError(t *testing.T) {
	boom := errors.New("rate limited")
	svc := NewCompletionService(&stubChatModel{err: boom}, time.Second)

	_, err := svc.Invoke(context.Background(), "hi")
	assert.ErrorIs(t, err, boom)
	assert.True(t, orchestrator.IsTransient(err))
}
