package scheduler

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/amirphl/sms-dispatcher/config"
)

const (
	gatewaySendPath   = "/sms.php"
	gatewayStatusPath = "/stat.php"

	gatewayOpSend   = "send_sms"
	gatewayOpStatus = "getstatus"
)

// GatewayClient talks to the external SMS gateway
type GatewayClient interface {
	// Send submits one SEND_SMS request containing every entry of batch
	Send(ctx context.Context, batch []OutboundSMS) error
	// GetStatus submits one GETSTATUS request and streams every returned item to handle
	GetStatus(ctx context.Context, ids []string, handle func(DeliveryStatus) error) error
}

type httpGatewayClient struct {
	cfg     config.SMSGatewayConfig
	client  *http.Client
	metrics *engineMetrics
}

// NewHTTPGatewayClient builds a GatewayClient for the XML-over-HTTP gateway
func NewHTTPGatewayClient(cfg config.SMSGatewayConfig) GatewayClient {
	return newHTTPGatewayClient(cfg, defaultEngineMetrics())
}

func newHTTPGatewayClient(cfg config.SMSGatewayConfig, metrics *engineMetrics) *httpGatewayClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &httpGatewayClient{
		cfg:     cfg,
		metrics: metrics,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *httpGatewayClient) Send(ctx context.Context, batch []OutboundSMS) error {
	if len(batch) == 0 {
		return nil
	}
	body, err := EncodeSendSMS(c.cfg.SenderName, batch)
	if err != nil {
		return err
	}

	start := time.Now()
	resp, err := c.post(ctx, gatewaySendPath, body)
	if err != nil {
		c.metrics.observeGateway(gatewayOpSend, "transport_error", start)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.metrics.observeGateway(gatewayOpSend, "http_error", start)
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("gateway send_sms http status: %d, body: %s", resp.StatusCode, string(b))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	c.metrics.observeGateway(gatewayOpSend, "ok", start)
	return nil
}

func (c *httpGatewayClient) GetStatus(ctx context.Context, ids []string, handle func(DeliveryStatus) error) error {
	if len(ids) == 0 {
		return nil
	}
	body, err := EncodeGetStatus(ids)
	if err != nil {
		return err
	}

	start := time.Now()
	resp, err := c.post(ctx, gatewayStatusPath, body)
	if err != nil {
		c.metrics.observeGateway(gatewayOpStatus, "transport_error", start)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.metrics.observeGateway(gatewayOpStatus, "http_error", start)
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("gateway getstatus http status: %d, body: %s", resp.StatusCode, string(b))
	}

	if err := DecodeStatusStream(resp.Body, handle); err != nil {
		c.metrics.observeGateway(gatewayOpStatus, "decode_error", start)
		return err
	}
	c.metrics.observeGateway(gatewayOpStatus, "ok", start)
	return nil
}

func (c *httpGatewayClient) post(ctx context.Context, path string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(c.cfg.Login, c.cfg.Password)
	req.Header.Set("Content-Type", "text/xml")
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gateway %s: %w", path, err)
	}
	return resp, nil
}
