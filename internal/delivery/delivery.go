// Package delivery sends one-time codes to users out of band. Sending is
// best effort: callers hand a code to the Dispatcher and move on.
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/SinaHo/phone-auth-backend/internal/logger"
	"github.com/SinaHo/phone-auth-backend/internal/metrics"
)

// Sender delivers a code to a phone number.
type Sender interface {
	Send(ctx context.Context, phone, code string) error
}

// LogSender writes the code to the log instead of sending it. Used in
// development and wherever no SMS gateway is configured.
type LogSender struct {
	logger *zap.SugaredLogger
}

func NewLogSender(logger *zap.SugaredLogger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(_ context.Context, phone, code string) error {
	s.logger.Infow("auth code issued", "phone", phone, "code", code)
	return nil
}

// HTTPSender posts {"phone", "message"} to an SMS gateway.
type HTTPSender struct {
	URL        string
	APIKey     string
	HTTPClient *http.Client
}

func NewHTTPSender(url, apiKey string, timeout time.Duration) *HTTPSender {
	return &HTTPSender{
		URL:    url,
		APIKey: apiKey,
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type gatewayRequest struct {
	Phone   string `json:"phone"`
	Message string `json:"message"`
}

func (s *HTTPSender) Send(ctx context.Context, phone, code string) error {
	body, err := json.Marshal(gatewayRequest{
		Phone:   phone,
		Message: fmt.Sprintf("Your access code: %s", code),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.APIKey)
	}

	resp, err := s.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("gateway error: %s (status: %d)", string(respBody), resp.StatusCode)
	}
	return nil
}

// Dispatcher runs sends in the background. A failed send is logged and
// counted; it never reaches the caller that issued the code.
type Dispatcher struct {
	sender  Sender
	logger  *zap.SugaredLogger
	metrics *metrics.Metrics
	timeout time.Duration
	wg      sync.WaitGroup
}

func NewDispatcher(sender Sender, logger *zap.SugaredLogger, m *metrics.Metrics, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{sender: sender, logger: logger, metrics: m, timeout: timeout}
}

// Dispatch returns immediately. The send outlives ctx cancellation but keeps
// its values.
func (d *Dispatcher) Dispatch(ctx context.Context, phone, code string) {
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				d.logger.Errorw("code delivery panicked", "phone", logger.MaskPhone(phone), "panic", r)
				d.metrics.IncDeliveryFailures()
			}
		}()

		if err := d.sender.Send(sendCtx, phone, code); err != nil {
			d.logger.Warnw("code delivery failed", "phone", logger.MaskPhone(phone), "error", err)
			d.metrics.IncDeliveryFailures()
		}
	}()
}

// Wait blocks until in-flight sends finish or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
