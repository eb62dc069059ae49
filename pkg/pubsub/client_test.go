package pubsub

import (
	"testing"

	"github.com/angelmondragon/intlshop-backend/pkg/config"
)

func TestSubscriptionNamesSkipsBlank(t *testing.T) {
	names := subscriptionNames(config.PubSubConfig{OrdersSubscription: " order-timeouts ", DomainSubscription: ""})
	if len(names) != 1 || names[0] != "order-timeouts" {
		t.Fatalf("unexpected names %v", names)
	}
}

func TestResourceNames(t *testing.T) {
	c := &Client{projectID: "intlshop-dev"}
	if got := c.subscriptionResourceName("order-timeouts"); got != "projects/intlshop-dev/subscriptions/order-timeouts" {
		t.Fatalf("unexpected subscription name %q", got)
	}
	full := "projects/other/subscriptions/x"
	if got := c.subscriptionResourceName(full); got != full {
		t.Fatalf("full resource names pass through, got %q", got)
	}
	if got := c.topicResourceName("domain-events"); got != "projects/intlshop-dev/topics/domain-events" {
		t.Fatalf("unexpected topic name %q", got)
	}
	if got := (&Client{}).topicResourceName("domain-events"); got != "" {
		t.Fatalf("expected empty name without project, got %q", got)
	}
}

func TestClientOptionsPrefersInlineCredentials(t *testing.T) {
	if opts := clientOptions(config.GCPConfig{}); len(opts) != 0 {
		t.Fatalf("expected default credentials, got %d options", len(opts))
	}
	opts := clientOptions(config.GCPConfig{CredentialsJSON: `{"type":"service_account"}`, ApplicationCredentials: "/tmp/creds.json"})
	if len(opts) != 1 {
		t.Fatalf("expected one option, got %d", len(opts))
	}
}

func TestNilClientHandles(t *testing.T) {
	var c *Client
	if c.OrdersSubscription() != nil || c.DomainPublisher() != nil {
		t.Fatal("nil client must return nil handles")
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close on nil client: %v", err)
	}
}
