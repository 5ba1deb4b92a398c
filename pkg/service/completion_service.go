package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/choraleia/helpdesk/pkg/models"
	"github.com/choraleia/helpdesk/pkg/orchestrator"
	"github.com/choraleia/helpdesk/pkg/utils"
	einoModel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// CompletionService adapts an eino chat model to orchestrator.Completion.
// Every call runs under its own timeout; failures are reported as transient.
type CompletionService struct {
	model   einoModel.BaseChatModel
	timeout time.Duration
	logger  *slog.Logger
}

func NewCompletionService(model einoModel.BaseChatModel, timeout time.Duration) *CompletionService {
	return &CompletionService{model: model, timeout: timeout, logger: utils.GetLogger()}
}

func (s *CompletionService) Invoke(ctx context.Context, prompt string) (*models.Completion, error) {
	return s.generate(ctx, []*schema.Message{schema.UserMessage(prompt)})
}

func (s *CompletionService) InvokeWithSystemPrompt(ctx context.Context, system, user string) (*models.Completion, error) {
	return s.generate(ctx, []*schema.Message{
		schema.SystemMessage(system),
		schema.UserMessage(user),
	})
}

func (s *CompletionService) generate(ctx context.Context, msgs []*schema.Message) (*models.Completion, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	out, err := s.model.Generate(ctx, msgs)
	if err != nil {
		return nil, orchestrator.Transient("completion", err)
	}
	if out == nil {
		return nil, orchestrator.Transient("completion", fmt.Errorf("model returned no message"))
	}

	c := &models.Completion{Content: strings.TrimSpace(out.Content)}
	if out.ResponseMeta != nil && out.ResponseMeta.Usage != nil {
		u := out.ResponseMeta.Usage
		c.Usage = &models.TokenUsage{
			PromptTokens:     u.PromptTokens,
			CompletionTokens: u.CompletionTokens,
			TotalTokens:      u.TotalTokens,
		}
	}
	s.logger.Debug("Completion finished", "duration", time.Since(start), "chars", len(c.Content))
	return c, nil
}

var _ orchestrator.Completion = (*CompletionService)(nil)
