package agent

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/metorial/beacon/internal/rpc"
	"github.com/tidwall/gjson"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Sender delivers one report to the collector.
type Sender interface {
	Send(ctx context.Context, r *Report) error
	Close() error
}

type HTTPSender struct {
	url    string
	client *http.Client
}

// NewHTTPSender posts reports to baseURL/api/v1/report.
func NewHTTPSender(baseURL string, client *http.Client) *HTTPSender {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPSender{
		url:    strings.TrimSuffix(baseURL, "/") + "/api/v1/report",
		client: client,
	}
}

func (s *HTTPSender) Send(ctx context.Context, r *Report) error {
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post report: %w", err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("collector answered %d: %s", resp.StatusCode, gjson.GetBytes(data, "error").String())
	}
	return nil
}

func (s *HTTPSender) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

type GRPCSender struct {
	conn   *grpc.ClientConn
	client *rpc.ReporterClient
}

func NewGRPCSender(addr string, opts ...grpc.DialOption) (*GRPCSender, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("create grpc client: %w", err)
	}
	return &GRPCSender{conn: conn, client: rpc.NewReporterClient(conn)}, nil
}

func (s *GRPCSender) Send(ctx context.Context, r *Report) error {
	in, err := r.Struct()
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if _, err := s.client.Report(ctx, in); err != nil {
		return fmt.Errorf("report: %w", err)
	}
	return nil
}

func (s *GRPCSender) Close() error {
	return s.conn.Close()
}
