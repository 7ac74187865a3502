package services

import (
	"context"
	"fmt"

	"queue-system/models"
	"queue-system/utils"

	pubnub "github.com/pubnub/go"
)

type Publisher interface {
	Publish(channel string, message map[string]any) error
}

type pubnubPublisher struct {
	pn *pubnub.PubNub
}

func NewPubNubPublisher(pn *pubnub.PubNub) Publisher {
	return &pubnubPublisher{pn: pn}
}

func (p *pubnubPublisher) Publish(channel string, message map[string]any) error {
	_, _, err := p.pn.Publish().
		Channel(channel).
		Message(message).
		Execute()
	return err
}

type breakerPublisher struct {
	next    Publisher
	breaker *utils.CircuitBreaker
}

// WithBreaker stops publishing while the realtime provider keeps failing.
func WithBreaker(next Publisher, breaker *utils.CircuitBreaker) Publisher {
	return &breakerPublisher{next: next, breaker: breaker}
}

func (p *breakerPublisher) Publish(channel string, message map[string]any) error {
	return p.breaker.Execute(func() error {
		return p.next.Publish(channel, message)
	})
}

// Notifier pushes ticket updates to the display board channel of the
// service type and to the citizen's ticket channel.
type Notifier struct {
	publisher Publisher
}

func NewNotifier(publisher Publisher) *Notifier {
	return &Notifier{publisher: publisher}
}

func BoardChannel(serviceType string) string {
	return fmt.Sprintf("queue-%s", serviceType)
}

func TicketChannel(number string) string {
	return fmt.Sprintf("ticket-%s", number)
}

func (n *Notifier) Handle(ctx context.Context, ev models.QueueEvent) error {
	if ev.Type == models.EventReprioritized {
		return nil
	}

	message := map[string]any{
		"type":          "ticket_status",
		"ticket_number": ev.TicketNumber,
		"service_type":  ev.ServiceType,
		"status":        ev.To,
	}

	if ev.Type == models.EventAssigned {
		board := map[string]any{
			"type":          "ticket_called",
			"ticket_number": ev.TicketNumber,
			"service_type":  ev.ServiceType,
			"agent_id":      ev.AgentID,
		}
		if err := n.publisher.Publish(BoardChannel(ev.ServiceType), board); err != nil {
			return fmt.Errorf("publish board %s: %w", ev.ServiceType, err)
		}
		message["message"] = "Please proceed to the counter"
	}

	if err := n.publisher.Publish(TicketChannel(ev.TicketNumber), message); err != nil {
		return fmt.Errorf("publish ticket %s: %w", ev.TicketNumber, err)
	}
	return nil
}
