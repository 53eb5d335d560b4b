package notifier

import (
	"bufio"
	"context"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/good-yellow-bee/brokerwatch/internal/models"
)

func TestEmailConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		config  EmailConfig
		wantErr bool
		errMsg  string
	}{
		{
			name:    "empty config",
			config:  EmailConfig{},
			wantErr: true,
			errMsg:  "SMTP host is required",
		},
		{
			name:    "missing port",
			config:  EmailConfig{Host: "smtp.example.com"},
			wantErr: true,
			errMsg:  "SMTP port is required",
		},
		{
			name:    "missing from",
			config:  EmailConfig{Host: "smtp.example.com", Port: 587},
			wantErr: true,
			errMsg:  "from address is required",
		},
		{
			name:   "valid config",
			config: EmailConfig{Host: "smtp.example.com", Port: 587, From: "alerts@example.com"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error containing %q, got nil", tt.errMsg)
				} else if !strings.Contains(err.Error(), tt.errMsg) {
					t.Errorf("expected error containing %q, got %q", tt.errMsg, err.Error())
				}
			} else if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestLoadTemplates(t *testing.T) {
	templates, err := LoadTemplates()
	if err != nil {
		t.Fatalf("failed to load templates: %v", err)
	}

	if templates.html == nil {
		t.Error("HTML template is nil")
	}
	if templates.plain == nil {
		t.Error("plain template is nil")
	}
}

func TestTemplatesRenderBatch(t *testing.T) {
	templates, err := LoadTemplates()
	if err != nil {
		t.Fatalf("failed to load templates: %v", err)
	}
	data := BatchToTemplateData(testBatch())

	html, err := templates.RenderHTML(&data)
	if err != nil {
		t.Fatalf("failed to render HTML: %v", err)
	}
	for _, want := range []string{"Critical Memory Usage", "High Message Count", "Idle Queue", "#d32f2f", "#f57c00", "srv-1"} {
		if !strings.Contains(html, want) {
			t.Errorf("HTML missing %q", want)
		}
	}

	plain, err := templates.RenderPlain(&data)
	if err != nil {
		t.Fatalf("failed to render plain: %v", err)
	}
	for _, want := range []string{"[CRITICAL] BrokerWatch: 3 alerts on srv-1", "[WARNING] High Message Count", "queue orders (vhost /)", "threshold 10000", "1 critical, 1 warning, 1 info"} {
		if !strings.Contains(plain, want) {
			t.Errorf("plain missing %q", want)
		}
	}
}

func TestBatchToTemplateData(t *testing.T) {
	data := BatchToTemplateData(testBatch())

	if data.Severity != "critical" {
		t.Errorf("Severity = %q, want critical", data.Severity)
	}
	if data.SeverityColor != "#d32f2f" {
		t.Errorf("SeverityColor = %q, want #d32f2f", data.SeverityColor)
	}
	if len(data.Alerts) != 3 {
		t.Fatalf("Alerts = %d, want 3", len(data.Alerts))
	}
	if data.Alerts[0].Current != "95.5" || data.Alerts[0].Threshold != "90" {
		t.Errorf("alert 0 values = %q / %q", data.Alerts[0].Current, data.Alerts[0].Threshold)
	}
	if data.Alerts[2].Threshold != "" {
		t.Errorf("alert without threshold rendered %q", data.Alerts[2].Threshold)
	}
}

func TestSeverityColor(t *testing.T) {
	tests := []struct {
		severity string
		want     string
	}{
		{"critical", "#d32f2f"},
		{"warning", "#f57c00"},
		{"info", "#1976d2"},
		{"unknown", "#757575"},
	}

	for _, tt := range tests {
		t.Run(tt.severity, func(t *testing.T) {
			got := severityColor(models.Severity(tt.severity))
			if got != tt.want {
				t.Errorf("severityColor(%q) = %q, want %q", tt.severity, got, tt.want)
			}
		})
	}
}

func TestEmailNotifierName(t *testing.T) {
	notifier := &EmailNotifier{}
	if got := notifier.Name(); got != "email" {
		t.Errorf("Name() = %q, want %q", got, "email")
	}
}

func TestBuildMIMEMessage(t *testing.T) {
	notifier := &EmailNotifier{
		config: EmailConfig{From: "BrokerWatch <alerts@example.com>"},
	}

	msg := notifier.buildMIMEMessage([]string{"admin@example.com", "ops@example.com"}, "Test Subject", "Plain body", "<html>HTML body</html>")
	msgStr := string(msg)

	for _, want := range []string{
		"From: BrokerWatch <alerts@example.com>",
		"To: admin@example.com, ops@example.com",
		"Subject: Test Subject",
		"MIME-Version: 1.0",
		"multipart/alternative",
		"Plain body",
		"<html>HTML body</html>",
	} {
		if !strings.Contains(msgStr, want) {
			t.Errorf("message missing %q", want)
		}
	}
}

func TestExtractEmail(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"test@example.com", "test@example.com"},
		{"Test User <test@example.com>", "test@example.com"},
		{"BrokerWatch Alerts <alerts@example.com>", "alerts@example.com"},
		{" spaced@example.com ", "spaced@example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := extractEmail(tt.input); got != tt.want {
				t.Errorf("extractEmail(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestSendEmailRejectsEmptyInput(t *testing.T) {
	notifier := &EmailNotifier{}

	if res := notifier.SendEmail(context.Background(), nil, testBatch()); res.Success || res.Error != "no recipients" {
		t.Errorf("no recipients: got %+v", res)
	}
	empty := NewBatch("acme", "srv-1", nil, time.Now())
	if res := notifier.SendEmail(context.Background(), []string{"a@example.com"}, empty); res.Success || res.Error != "empty batch" {
		t.Errorf("empty batch: got %+v", res)
	}
}

// mockSMTPServer is a plaintext SMTP server recording DATA payloads.
type mockSMTPServer struct {
	listener   net.Listener
	messages   [][]byte
	recipients []string
	mu         sync.Mutex
	wg         sync.WaitGroup
}

func newMockSMTPServer(t *testing.T) *mockSMTPServer {
	var lc net.ListenConfig
	listener, err := lc.Listen(context.Background(), "tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to create listener: %v", err)
	}

	server := &mockSMTPServer{listener: listener}
	server.wg.Add(1)
	go server.serve()
	return server
}

func (s *mockSMTPServer) serve() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		go s.handleConnection(conn)
	}
}

func (s *mockSMTPServer) handleConnection(conn net.Conn) {
	defer conn.Close()

	reader := bufio.NewReader(conn)
	writer := bufio.NewWriter(conn)
	reply := func(line string) {
		writer.WriteString(line + "\r\n")
		writer.Flush()
	}

	reply("220 localhost SMTP Mock Server")

	var dataMode bool
	var messageData []byte

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")

		if dataMode {
			if line == "." {
				dataMode = false
				s.mu.Lock()
				s.messages = append(s.messages, messageData)
				s.mu.Unlock()
				messageData = nil
				reply("250 OK")
				continue
			}
			messageData = append(messageData, []byte(line+"\n")...)
			continue
		}

		upperLine := strings.ToUpper(line)
		switch {
		case strings.HasPrefix(upperLine, "EHLO"), strings.HasPrefix(upperLine, "HELO"):
			reply("250-localhost")
			reply("250 OK")
		case strings.HasPrefix(upperLine, "MAIL FROM"):
			reply("250 OK")
		case strings.HasPrefix(upperLine, "RCPT TO"):
			s.mu.Lock()
			s.recipients = append(s.recipients, line[len("RCPT TO:"):])
			s.mu.Unlock()
			reply("250 OK")
		case upperLine == "DATA":
			reply("354 Start mail input")
			dataMode = true
		case upperLine == "QUIT":
			reply("221 Bye")
			return
		default:
			reply("500 Unknown command")
		}
	}
}

func (s *mockSMTPServer) hostPort(t *testing.T) (string, int) {
	host, portStr, err := net.SplitHostPort(s.listener.Addr().String())
	if err != nil {
		t.Fatalf("split addr: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parse port: %v", err)
	}
	return host, port
}

func (s *mockSMTPServer) close() {
	s.listener.Close()
	s.wg.Wait()
}

func (s *mockSMTPServer) snapshot() ([][]byte, []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := make([][]byte, len(s.messages))
	copy(msgs, s.messages)
	rcpts := make([]string, len(s.recipients))
	copy(rcpts, s.recipients)
	return msgs, rcpts
}

func TestEmailNotifierSendWithMockSMTP(t *testing.T) {
	server := newMockSMTPServer(t)
	defer server.close()

	host, port := server.hostPort(t)
	notifier, err := NewEmailNotifier(&EmailConfig{
		Host: host,
		Port: port,
		From: "BrokerWatch <alerts@example.com>",
	})
	if err != nil {
		t.Fatalf("failed to create notifier: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res := notifier.SendEmail(ctx, []string{"admin@example.com", "Ops <ops@example.com>"}, testBatch())
	if !res.Success {
		t.Fatalf("SendEmail failed: %s", res.Error)
	}

	// QUIT follows DATA, so the message is recorded before SendEmail returns.
	messages, recipients := server.snapshot()
	if len(messages) != 1 {
		t.Fatalf("messages = %d, want 1", len(messages))
	}
	msgStr := string(messages[0])
	for _, want := range []string{"Subject: [CRITICAL] BrokerWatch: 3 alerts on srv-1", "Critical Memory Usage", "Idle Queue"} {
		if !strings.Contains(msgStr, want) {
			t.Errorf("message missing %q", want)
		}
	}
	if len(recipients) != 2 || recipients[1] != "<ops@example.com>" {
		t.Errorf("recipients = %v", recipients)
	}
}

func TestEmailNotifierConnectionFailure(t *testing.T) {
	server := newMockSMTPServer(t)
	host, port := server.hostPort(t)
	server.close()

	notifier, err := NewEmailNotifier(&EmailConfig{Host: host, Port: port, From: "alerts@example.com"})
	if err != nil {
		t.Fatalf("failed to create notifier: %v", err)
	}

	res := notifier.SendEmail(context.Background(), []string{"admin@example.com"}, testBatch())
	if res.Success {
		t.Fatal("expected failure against a closed server")
	}
	if !strings.Contains(res.Error, "failed to connect") {
		t.Errorf("error = %q", res.Error)
	}
}
