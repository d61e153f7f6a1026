package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestDefaultTemplateRender(t *testing.T) {
	tpl, err := NewTemplate("", "")
	if err != nil {
		t.Fatalf("new template: %v", err)
	}

	subject, body, err := tpl.Render(TemplateData{
		TagID:      42,
		TagName:    "Cooling Loop",
		Kind:       "rule-change",
		KindLabel:  "Status Change",
		Status:     "ERROR",
		Value:      "2",
		Expression: "(#7 > 80)[2]",
		Time:       "2026-08-31T08:00:00Z",
		ChangedRules: []ChildLine{
			{TagID: 7, Name: "Pump Pressure", Status: "ERROR", Value: "2"},
		},
		ChangedMetrics: []ChildLine{
			{TagID: 8, Name: "Flow Rate", Status: "OK", Value: "12.5"},
		},
	})
	if err != nil {
		t.Fatalf("render: %v", err)
	}

	if subject != "[Status Change] Cooling Loop is ERROR" {
		t.Fatalf("unexpected subject %q", subject)
	}
	for _, expected := range []string{
		"Tag: Cooling Loop (#42)",
		"Status: ERROR",
		"Condition: (#7 > 80)[2]",
		"Changed conditions:",
		"- Pump Pressure (#7): ERROR",
		"Related readings:",
		"- Flow Rate (#8): 12.5",
	} {
		if !strings.Contains(body, expected) {
			t.Fatalf("expected body to include %q, got:\n%s", expected, body)
		}
	}
}

func TestTemplateOmitsEmptySections(t *testing.T) {
	tpl, err := NewTemplate("", "")
	if err != nil {
		t.Fatalf("new template: %v", err)
	}
	_, body, err := tpl.Render(TemplateData{TagID: 1, TagName: "t", Status: "OK", Time: "now"})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if strings.Contains(body, "Changed conditions") || strings.Contains(body, "Condition:") {
		t.Fatalf("expected empty sections omitted, got:\n%s", body)
	}
}

func TestCustomTemplateParseError(t *testing.T) {
	if _, err := NewTemplate("{{.Broken", ""); err == nil {
		t.Fatal("expected parse error for malformed subject template")
	}
}

func TestWebhookChannelPayloads(t *testing.T) {
	payloadCh := make(chan webhookPayload, 2)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		var payload webhookPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		payloadCh <- payload
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	channel, err := NewWebhookChannel(server.URL)
	if err != nil {
		t.Fatalf("new webhook channel: %v", err)
	}

	if err := channel.SendMail(context.Background(), "alice@example.org", "subject", "body"); err != nil {
		t.Fatalf("send mail: %v", err)
	}
	mail := <-payloadCh
	if mail.Channel != "mail" || mail.To != "alice@example.org" || mail.Subject != "subject" {
		t.Fatalf("unexpected mail payload: %+v", mail)
	}

	if err := channel.SendSMS(context.Background(), "+41760000000", "short text"); err != nil {
		t.Fatalf("send sms: %v", err)
	}
	sms := <-payloadCh
	if sms.Channel != "sms" || sms.To != "+41760000000" || sms.Body != "short text" {
		t.Fatalf("unexpected sms payload: %+v", sms)
	}
}

func TestWebhookChannelReportsServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	channel, err := NewWebhookChannel(server.URL)
	if err != nil {
		t.Fatalf("new webhook channel: %v", err)
	}
	if err := channel.SendMail(context.Background(), "a@example.org", "s", "b"); err == nil {
		t.Fatal("expected error for non-2xx response")
	}
}
