package telephony

import (
	"strings"
	"testing"
)

func TestRenderMessagingTwiML_Reply(t *testing.T) {
	xml, err := RenderMessagingTwiML("You have been unsubscribed & will not be texted.")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !strings.Contains(xml, "<Message>You have been unsubscribed &amp; will not be texted.</Message>") {
		t.Fatalf("expected escaped message in xml: %s", xml)
	}
}

func TestRenderMessagingTwiML_Empty(t *testing.T) {
	xml, err := RenderMessagingTwiML("")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if strings.Contains(xml, "<Message") || !strings.Contains(xml, "<Response>") {
		t.Fatalf("expected empty response: %s", xml)
	}
}
