package pipeline

import (
	"context"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"lovebox_automation/lovebox-daily/apperr"
	"lovebox_automation/lovebox-daily/config"
	"lovebox_automation/lovebox-daily/generator"
	"lovebox_automation/lovebox-daily/notify"
	"lovebox_automation/lovebox-daily/prompt"
)

var pngBytes = []byte("\x89PNG\r\n\x1a\nfake")

type fakePrompts struct {
	p   *prompt.Prompt
	err error
}

func (f *fakePrompts) Assemble(context.Context) (*prompt.Prompt, error) {
	return f.p, f.err
}

type fakeGenerator struct {
	calls    int
	failures int
	err      error
	mimeType string
	gotRef   *generator.Image
}

func (f *fakeGenerator) Generate(_ context.Context, req generator.Request) (*generator.Result, error) {
	f.calls++
	f.gotRef = req.ReferenceImage
	if f.calls <= f.failures {
		return nil, f.err
	}
	mimeType := f.mimeType
	if mimeType == "" {
		mimeType = "image/png"
	}
	return &generator.Result{Image: pngBytes, MIMEType: mimeType, Caption: "so cute"}, nil
}

type fakeLovebox struct {
	calls     int
	failures  int
	recipient string
	payload   string
}

func (f *fakeLovebox) Send(_ context.Context, recipientID, base64Image string) error {
	f.calls++
	f.recipient = recipientID
	f.payload = base64Image
	if f.calls <= f.failures {
		return apperr.DeliveryFailed("Failed to send image to Lovebox: status 500", []byte("oops"), nil)
	}
	return nil
}

type sentMessage struct {
	msg           notify.Message
	attachmentHad bool
}

type fakeNotifier struct {
	sent []sentMessage
	err  error
}

func (f *fakeNotifier) Notify(_ context.Context, msg notify.Message) error {
	had := false
	if msg.AttachmentPath != "" {
		_, err := os.Stat(msg.AttachmentPath)
		had = err == nil
	}
	f.sent = append(f.sent, sentMessage{msg: msg, attachmentHad: had})
	return f.err
}

type harness struct {
	cfg      *config.Config
	prompts  *fakePrompts
	gen      *fakeGenerator
	lovebox  *fakeLovebox
	notifier *fakeNotifier
	sleeps   []time.Duration
	runner   *Runner
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := &config.Config{
		SenderName: "Alex",
		Lovebox: config.LoveboxConfig{
			Recipient:    config.Recipient{Name: "Sam", ID: "sam-1"},
			AltRecipient: config.Recipient{Name: "Kim", ID: "kim-2"},
		},
	}
	cfg.ApplyDefaults()
	cfg.Image.Path = filepath.Join(t.TempDir(), "daily_image.png")

	h := &harness{
		cfg:      cfg,
		prompts:  &fakePrompts{p: &prompt.Prompt{Text: "They are dancing in Paris."}},
		gen:      &fakeGenerator{err: apperr.GenerationFailed("gemini request failed", errors.New("503"))},
		lovebox:  &fakeLovebox{},
		notifier: &fakeNotifier{},
	}
	h.runner = NewRunner(cfg, Deps{
		Prompts:   h.prompts,
		Generator: h.gen,
		Lovebox:   h.lovebox,
		Notifier:  h.notifier,
		Log:       zerolog.Nop(),
		Sleep: func(_ context.Context, d time.Duration) error {
			h.sleeps = append(h.sleeps, d)
			return nil
		},
		Now: func() time.Time { return time.Date(2024, 2, 14, 8, 30, 0, 0, time.UTC) },
	})
	return h
}

func (h *harness) imageExists() bool {
	_, err := os.Stat(h.cfg.Image.Path)
	return err == nil
}

func TestRunSuccess(t *testing.T) {
	h := newHarness(t)

	report, err := h.runner.Run(context.Background(), Options{RunID: "run-1"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if report.Status != StatusSent || report.RunID != "run-1" {
		t.Errorf("unexpected report %+v", report)
	}
	if h.gen.calls != 1 || h.lovebox.calls != 1 {
		t.Errorf("expected one generation and one delivery, got %d and %d", h.gen.calls, h.lovebox.calls)
	}
	if h.lovebox.recipient != "sam-1" || h.lovebox.payload != base64.StdEncoding.EncodeToString(pngBytes) {
		t.Errorf("unexpected delivery %q %q", h.lovebox.recipient, h.lovebox.payload)
	}

	if len(h.notifier.sent) != 1 {
		t.Fatalf("expected 1 email, got %d", len(h.notifier.sent))
	}
	sent := h.notifier.sent[0]
	if sent.msg.Subject != SubjectSent {
		t.Errorf("expected subject %q, got %q", SubjectSent, sent.msg.Subject)
	}
	wantBody := "Hi Alex - Your Lovebox image was sent to Sam on 2024-02-14 08:30:00!\n\nPrompt used to generate the image:\nThey are dancing in Paris."
	if !strings.HasPrefix(sent.msg.Body, wantBody) {
		t.Errorf("expected body to start with\n%q\ngot\n%q", wantBody, sent.msg.Body)
	}
	if !strings.Contains(sent.msg.Body, "so cute") {
		t.Error("expected caption in body")
	}
	if !sent.attachmentHad {
		t.Error("expected the image to exist while the email was sent")
	}
	if h.imageExists() {
		t.Error("expected image to be removed after the run")
	}
	if len(h.sleeps) != 0 {
		t.Errorf("expected no retry delay, got %v", h.sleeps)
	}
}

func TestRunGeneratesRunID(t *testing.T) {
	h := newHarness(t)
	report, err := h.runner.Run(context.Background(), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(report.RunID) != 36 {
		t.Errorf("expected a UUID run id, got %q", report.RunID)
	}
}

func TestRunAltRecipient(t *testing.T) {
	h := newHarness(t)
	if _, err := h.runner.Run(context.Background(), Options{Alt: true}); err != nil {
		t.Fatal(err)
	}
	if h.lovebox.recipient != "kim-2" {
		t.Errorf("expected alt recipient, got %q", h.lovebox.recipient)
	}
	if !strings.Contains(h.notifier.sent[0].msg.Body, "sent to Kim") {
		t.Errorf("expected alt recipient name in body, got %q", h.notifier.sent[0].msg.Body)
	}
}

func TestRunRetriesGenerationOnce(t *testing.T) {
	h := newHarness(t)
	h.gen.failures = 1

	report, err := h.runner.Run(context.Background(), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if report.Status != StatusSent || report.GenerationAttempts != 2 {
		t.Errorf("expected success on the second attempt, got %+v", report)
	}
	if len(h.sleeps) != 1 || h.sleeps[0] != 15*time.Second {
		t.Errorf("expected one 15s delay, got %v", h.sleeps)
	}
}

func TestRunGenerationFailsTwice(t *testing.T) {
	h := newHarness(t)
	h.gen.failures = 2

	report, err := h.runner.Run(context.Background(), Options{})
	if err != nil {
		t.Fatalf("expected failure to be reported by email, got %v", err)
	}
	if report.Status != StatusGenerationFailed {
		t.Errorf("expected generation_failed, got %s", report.Status)
	}
	if h.gen.calls != 2 {
		t.Errorf("expected exactly 2 generation attempts, got %d", h.gen.calls)
	}
	if h.lovebox.calls != 0 {
		t.Error("expected no delivery attempt")
	}
	if len(h.notifier.sent) != 1 {
		t.Fatalf("expected 1 email, got %d", len(h.notifier.sent))
	}
	msg := h.notifier.sent[0].msg
	if msg.Subject != SubjectFailed || !strings.HasPrefix(msg.Body, "Image generation failed after two attempts.\n\nError: ") {
		t.Errorf("unexpected failure email %+v", msg)
	}
	if msg.AttachmentPath != "" {
		t.Error("expected no attachment on failure")
	}
}

func TestRunDeliveryFailsTwice(t *testing.T) {
	h := newHarness(t)
	h.lovebox.failures = 2

	report, err := h.runner.Run(context.Background(), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if report.Status != StatusDeliveryFailed || report.DeliveryAttempts != 2 {
		t.Errorf("unexpected report %+v", report)
	}
	if h.lovebox.calls != 2 {
		t.Errorf("expected exactly 2 delivery attempts, got %d", h.lovebox.calls)
	}
	if len(h.notifier.sent) != 1 {
		t.Fatalf("expected 1 email, got %d", len(h.notifier.sent))
	}
	msg := h.notifier.sent[0].msg
	if msg.Subject != SubjectFailed || !strings.HasPrefix(msg.Body, "Image sending to Lovebox failed after two attempts.\n\nError: ") {
		t.Errorf("unexpected failure email %+v", msg)
	}
	if !strings.Contains(msg.Body, "status 500") {
		t.Errorf("expected delivery error in body, got %q", msg.Body)
	}
	if h.imageExists() {
		t.Error("expected image to be removed after a failed delivery")
	}
}

func TestRunPromptFailure(t *testing.T) {
	h := newHarness(t)
	h.prompts.err = apperr.ResourceUnavailable("messages.txt", os.ErrNotExist)

	report, err := h.runner.Run(context.Background(), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if report.Status != StatusPromptFailed {
		t.Errorf("expected prompt_failed, got %s", report.Status)
	}
	if h.gen.calls != 0 {
		t.Error("expected no generation attempt")
	}
	if len(h.notifier.sent) != 1 || h.notifier.sent[0].msg.Subject != SubjectFailed {
		t.Errorf("expected one failure email, got %+v", h.notifier.sent)
	}
}

func TestRunMissingRecipient(t *testing.T) {
	h := newHarness(t)
	h.cfg.Lovebox.Recipient = config.Recipient{}

	_, err := h.runner.Run(context.Background(), Options{})
	if !errors.Is(err, apperr.ErrConfigurationMissing) {
		t.Fatalf("expected ConfigurationMissing, got %v", err)
	}
	if h.gen.calls != 0 || h.lovebox.calls != 0 || len(h.notifier.sent) != 0 {
		t.Errorf("expected no external calls, got gen=%d lovebox=%d emails=%d",
			h.gen.calls, h.lovebox.calls, len(h.notifier.sent))
	}
}

func TestRunNotifierFailureIsFatal(t *testing.T) {
	h := newHarness(t)
	h.notifier.err = errors.New("smtp down")

	report, err := h.runner.Run(context.Background(), Options{})
	if err == nil {
		t.Fatal("expected notifier error")
	}
	if report.Status != StatusSent {
		t.Errorf("expected delivery to have succeeded, got %s", report.Status)
	}
	if h.imageExists() {
		t.Error("expected image to be removed even when the email fails")
	}
}

func TestRunCancelledDuringRetry(t *testing.T) {
	h := newHarness(t)
	h.gen.failures = 2
	ctx, cancel := context.WithCancel(context.Background())
	h.runner.deps.Sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	_, err := h.runner.Run(ctx, Options{})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if len(h.notifier.sent) != 0 {
		t.Error("expected no email after cancellation")
	}
}

func TestRunLoadsReferencePhoto(t *testing.T) {
	h := newHarness(t)
	photo := filepath.Join(t.TempDir(), "us.png")
	if err := os.WriteFile(photo, pngBytes, 0o644); err != nil {
		t.Fatal(err)
	}
	h.prompts.p = &prompt.Prompt{Text: "remix", ReferencePhoto: photo, Fallbacks: []string{"styles"}}

	report, err := h.runner.Run(context.Background(), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if h.gen.gotRef == nil || h.gen.gotRef.MIMEType != "image/png" {
		t.Errorf("expected reference image passed to generator, got %+v", h.gen.gotRef)
	}
	if report.ReferencePhoto != photo {
		t.Errorf("expected reference photo in report, got %q", report.ReferencePhoto)
	}
	if !strings.Contains(h.notifier.sent[0].msg.Body, "[styles]") {
		t.Errorf("expected fallback note in body, got %q", h.notifier.sent[0].msg.Body)
	}
}

func TestRunDoesNotRetryPermanentErrors(t *testing.T) {
	h := newHarness(t)
	h.gen.failures = 2
	h.gen.err = apperr.ConfigurationMissing("GEMINI_API_KEY")

	report, err := h.runner.Run(context.Background(), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if report.Status != StatusGenerationFailed || report.GenerationAttempts != 1 {
		t.Errorf("expected a single failed attempt, got %+v", report)
	}
	if h.gen.calls != 1 || len(h.sleeps) != 0 {
		t.Errorf("expected no retry, got %d calls and delays %v", h.gen.calls, h.sleeps)
	}
	msg := h.notifier.sent[0].msg
	if !strings.HasPrefix(msg.Body, "Image generation failed after one attempt.\n\nError: ") {
		t.Errorf("unexpected failure email %q", msg.Body)
	}
}

func TestRunSavesImageUnderItsType(t *testing.T) {
	h := newHarness(t)
	h.gen.mimeType = "image/jpeg"

	if _, err := h.runner.Run(context.Background(), Options{}); err != nil {
		t.Fatal(err)
	}
	sent := h.notifier.sent[0]
	want := strings.TrimSuffix(h.cfg.Image.Path, ".png") + ".jpg"
	if sent.msg.AttachmentPath != want {
		t.Errorf("expected attachment %s, got %s", want, sent.msg.AttachmentPath)
	}
	if !sent.attachmentHad {
		t.Error("expected the image to exist while the email was sent")
	}
	if h.lovebox.payload != base64.StdEncoding.EncodeToString(pngBytes) {
		t.Errorf("expected the generated bytes to be delivered, got %q", h.lovebox.payload)
	}
	if _, err := os.Stat(want); !os.IsNotExist(err) {
		t.Errorf("expected %s to be removed after the run, got %v", want, err)
	}
}
