package feed

import (
	"sync"
	"testing"
	"time"

	"skyvault/internal/models"
)

func TestSubscribeAndPublish(t *testing.T) {
	bus := New()
	defer bus.Close()

	received := make(chan Event, 10)
	bus.Subscribe("HYPERION", received)

	bus.Publish(models.Auction{UUID: "a1", Tag: "HYPERION", Sold: true})

	select {
	case evt := <-received:
		if evt.Auction.UUID != "a1" {
			t.Errorf("expected a1, got %s", evt.Auction.UUID)
		}
		if evt.Kind != "sold" {
			t.Errorf("expected kind sold, got %s", evt.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestTagFiltering(t *testing.T) {
	bus := New()
	defer bus.Close()

	hypCh := make(chan Event, 10)
	bookCh := make(chan Event, 10)
	allCh := make(chan Event, 10)
	bus.Subscribe("HYPERION", hypCh)
	bus.Subscribe("ENCHANTED_BOOK", bookCh)
	bus.Subscribe(AllTags, allCh)

	bus.Publish(models.Auction{UUID: "a1", Tag: "HYPERION"})

	select {
	case <-hypCh:
	case <-time.After(time.Second):
		t.Fatal("tag subscriber did not receive event")
	}
	select {
	case <-allCh:
	case <-time.After(time.Second):
		t.Fatal("all-tags subscriber did not receive event")
	}
	select {
	case <-bookCh:
		t.Fatal("ENCHANTED_BOOK subscriber should NOT receive a HYPERION event")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := New()
	defer bus.Close()

	ch := make(chan Event, 10)
	bus.Subscribe("HYPERION", ch)
	bus.Unsubscribe("HYPERION", ch)

	bus.Publish(models.Auction{UUID: "a1", Tag: "HYPERION"})

	select {
	case <-ch:
		t.Fatal("unsubscribed channel received event")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSlowSubscriberDropsNotBlocks(t *testing.T) {
	bus := New()
	defer bus.Close()

	full := make(chan Event) // no buffer, nobody reading
	bus.Subscribe("HYPERION", full)

	done := make(chan struct{})
	go func() {
		bus.Publish(models.Auction{UUID: "a1", Tag: "HYPERION"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}
}

func TestPublishBatchConcurrent(t *testing.T) {
	bus := New()
	defer bus.Close()

	received := make(chan Event, 100)
	bus.Subscribe(AllTags, received)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bus.Publish(models.Auction{UUID: "x", Tag: "HYPERION"})
		}()
	}
	wg.Wait()

	if len(received) != 50 {
		t.Errorf("expected 50 events, got %d", len(received))
	}
}
