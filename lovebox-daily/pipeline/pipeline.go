// Package pipeline runs the daily job: assemble a prompt, generate an
// image, deliver it to a Lovebox and email a report.
package pipeline

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"lovebox_automation/lovebox-daily/apperr"
	"lovebox_automation/lovebox-daily/artifact"
	"lovebox_automation/lovebox-daily/config"
	"lovebox_automation/lovebox-daily/generator"
	"lovebox_automation/lovebox-daily/logger"
	"lovebox_automation/lovebox-daily/notify"
	"lovebox_automation/lovebox-daily/prompt"
	"lovebox_automation/lovebox-daily/retry"
)

// Email subjects.
const (
	SubjectFailed = "Lovebox image failed!"
	SubjectSent   = "Lovebox image sent!"
)

// TimeLayout formats the delivery time in the success email.
const TimeLayout = "2006-01-02 15:04:05"

// Status is the outcome of a run.
type Status string

const (
	StatusSent             Status = "sent"
	StatusPromptFailed     Status = "prompt_failed"
	StatusGenerationFailed Status = "generation_failed"
	StatusDeliveryFailed   Status = "delivery_failed"
)

// PromptSource assembles prompts. *prompt.Assembler satisfies it.
type PromptSource interface {
	Assemble(ctx context.Context) (*prompt.Prompt, error)
}

// Deliverer sends an image to a Lovebox. *lovebox.Client satisfies it.
type Deliverer interface {
	Send(ctx context.Context, recipientID, base64Image string) error
}

// Notifier sends report emails. *notify.Notifier satisfies it.
type Notifier interface {
	Notify(ctx context.Context, msg notify.Message) error
}

// Deps are the collaborators of a Runner.
type Deps struct {
	Prompts   PromptSource
	Generator generator.Generator
	Lovebox   Deliverer
	Notifier  Notifier
	Log       zerolog.Logger
	// Sleep waits between attempts. Nil uses retry.Sleep.
	Sleep func(ctx context.Context, d time.Duration) error
	// Now is the clock for report timestamps. Nil uses time.Now.
	Now func() time.Time
}

// Options tune a single run.
type Options struct {
	// Alt sends to the alternate recipient.
	Alt bool
	// RunID identifies the run. Empty generates one.
	RunID string
}

// Report describes a finished run.
type Report struct {
	RunID              string    `json:"run_id"`
	Status             Status    `json:"status"`
	Recipient          string    `json:"recipient,omitempty"`
	Prompt             string    `json:"prompt,omitempty"`
	Caption            string    `json:"caption,omitempty"`
	ReferencePhoto     string    `json:"reference_photo,omitempty"`
	Fallbacks          []string  `json:"fallbacks,omitempty"`
	GenerationAttempts int       `json:"generation_attempts"`
	DeliveryAttempts   int       `json:"delivery_attempts"`
	Error              string    `json:"error,omitempty"`
	StartedAt          time.Time `json:"started_at"`
	FinishedAt         time.Time `json:"finished_at"`
}

// Runner executes runs. It holds no per-run state, but runs must not
// overlap because they share the image file.
type Runner struct {
	cfg  *config.Config
	deps Deps
}

// NewRunner creates a Runner.
func NewRunner(cfg *config.Config, deps Deps) *Runner {
	if deps.Sleep == nil {
		deps.Sleep = retry.Sleep
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Runner{cfg: cfg, deps: deps}
}

// Run executes one daily run. Generation and delivery failures are reported
// by email and in the returned Report, not as an error. The error is
// non-nil only when the run could not start (missing configuration), the
// report email could not be sent, or ctx was cancelled.
func (r *Runner) Run(ctx context.Context, opts Options) (*Report, error) {
	runID := opts.RunID
	if runID == "" {
		runID = uuid.New().String()
	}
	log := r.deps.Log.With().Str(logger.FieldRunID, runID).Logger()
	report := &Report{RunID: runID, StartedAt: r.deps.Now()}
	defer func() { report.FinishedAt = r.deps.Now() }()

	recipient, err := r.cfg.RecipientFor(opts.Alt)
	if err != nil {
		log.Error().Err(err).Msg("no Lovebox recipient configured")
		report.Error = err.Error()
		return report, err
	}
	report.Recipient = recipient.Name
	log.Info().Str("recipient", recipient.Name).Bool("alt", opts.Alt).Msg("🚀 Starting daily Lovebox run")

	// 1. Prompt
	p, ref, err := r.preparePrompt(ctx)
	if err != nil {
		log.Error().Err(err).Msg("prompt assembly failed")
		return r.fail(ctx, log, report, StatusPromptFailed,
			fmt.Sprintf("Prompt assembly failed.\n\nError: %v", err), err)
	}
	report.Prompt = p.Text
	report.ReferencePhoto = p.ReferencePhoto
	report.Fallbacks = p.Fallbacks
	log.Info().Str("prompt", p.Text).Msg("📝 Prompt assembled")

	// 2. Generation
	result, err := retry.Do(ctx, r.retryConfig(log, "generation"), func(ctx context.Context, attempt int) (*generator.Result, error) {
		report.GenerationAttempts = attempt
		return r.deps.Generator.Generate(ctx, generator.Request{Prompt: p.Text, ReferenceImage: ref})
	})
	if err != nil {
		if ctx.Err() != nil {
			report.Error = err.Error()
			return report, ctx.Err()
		}
		log.Error().Err(err).Int(logger.FieldAttempt, report.GenerationAttempts).Msg("image generation failed")
		return r.fail(ctx, log, report, StatusGenerationFailed,
			fmt.Sprintf("Image generation failed after %s.\n\nError: %v", attempts(report.GenerationAttempts), err), err)
	}
	report.Caption = result.Caption
	log.Info().Int("bytes", len(result.Image)).Str("mime_type", result.MIMEType).Msg("🎨 Image generated")

	// 3. Artifact
	img := artifact.New(artifact.PathFor(r.cfg.Image.Path, result.MIMEType))
	defer func() {
		if err := img.Remove(); err != nil {
			log.Warn().Err(err).Str("path", img.Path()).Msg("failed to clean up image")
		}
	}()
	if err := img.Write(result.Image); err != nil {
		log.Error().Err(err).Msg("saving image failed")
		return r.fail(ctx, log, report, StatusGenerationFailed,
			fmt.Sprintf("Saving the generated image failed.\n\nError: %v", err), err)
	}

	// 4. Delivery
	encoded := base64.StdEncoding.EncodeToString(result.Image)
	_, err = retry.Do(ctx, r.retryConfig(log, "delivery"), func(ctx context.Context, attempt int) (struct{}, error) {
		report.DeliveryAttempts = attempt
		return struct{}{}, r.deps.Lovebox.Send(ctx, recipient.ID, encoded)
	})
	if err != nil {
		if ctx.Err() != nil {
			report.Error = err.Error()
			return report, ctx.Err()
		}
		log.Error().Err(err).Int(logger.FieldAttempt, report.DeliveryAttempts).Msg("delivery failed")
		return r.fail(ctx, log, report, StatusDeliveryFailed,
			fmt.Sprintf("Image sending to Lovebox failed after %s.\n\nError: %v", attempts(report.DeliveryAttempts), err), err)
	}
	log.Info().Msg("💌 Image sent to Lovebox")

	// 5. Report
	report.Status = StatusSent
	if err := r.deps.Notifier.Notify(ctx, notify.Message{
		Subject:        SubjectSent,
		Body:           r.successBody(recipient, report),
		AttachmentPath: img.Path(),
	}); err != nil {
		log.Error().Err(err).Msg("success email failed")
		report.Error = err.Error()
		return report, err
	}
	log.Info().Str(logger.FieldStatus, string(report.Status)).Msg("✅ Daily run complete")
	return report, nil
}

// preparePrompt assembles the prompt and loads its reference photo, if any.
func (r *Runner) preparePrompt(ctx context.Context) (*prompt.Prompt, *generator.Image, error) {
	p, err := r.deps.Prompts.Assemble(ctx)
	if err != nil {
		return nil, nil, err
	}
	if p.ReferencePhoto == "" {
		return p, nil, nil
	}
	ref, err := generator.LoadImage(p.ReferencePhoto)
	if err != nil {
		return nil, nil, err
	}
	return p, ref, nil
}

func (r *Runner) retryConfig(log zerolog.Logger, stage string) retry.Config {
	cfg := retry.Once(r.cfg.RetryDelay)
	cfg.Sleep = r.deps.Sleep
	cfg.RetryIf = apperr.IsRetryable
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		log.Warn().Err(err).Str("stage", stage).Int(logger.FieldAttempt, attempt).
			Dur("delay", delay).Msg("attempt failed, retrying")
	}
	return cfg
}

// fail records a terminal failure and emails it.
func (r *Runner) fail(ctx context.Context, log zerolog.Logger, report *Report, status Status, body string, cause error) (*Report, error) {
	report.Status = status
	report.Error = cause.Error()
	if err := r.deps.Notifier.Notify(ctx, notify.Message{Subject: SubjectFailed, Body: body}); err != nil {
		log.Error().Err(err).Msg("failure email failed")
		return report, err
	}
	log.Info().Str(logger.FieldStatus, string(status)).Msg("❌ Daily run failed, report sent")
	return report, nil
}

func (r *Runner) successBody(recipient config.Recipient, report *Report) string {
	body := fmt.Sprintf("Hi %s - Your Lovebox image was sent to %s on %s!\n\nPrompt used to generate the image:\n%s",
		r.cfg.SenderName, recipient.Name, r.deps.Now().Format(TimeLayout), report.Prompt)
	if report.Caption != "" {
		body += "\n\nModel notes:\n" + report.Caption
	}
	if len(report.Fallbacks) > 0 {
		body += fmt.Sprintf("\n\nNote: the selection history was unavailable for %v, so those picks were random.", report.Fallbacks)
	}
	return body
}

// attempts spells out an attempt count for report emails.
func attempts(n int) string {
	switch n {
	case 1:
		return "one attempt"
	case 2:
		return "two attempts"
	default:
		return fmt.Sprintf("%d attempts", n)
	}
}
