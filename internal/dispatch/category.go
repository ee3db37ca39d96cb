package dispatch

import "clinotify/internal/domain"

// Category tags one engine tick with queue-specific behavior. The three
// instances differ only in these flags; the claim, send, and finalize
// mechanics are shared.
type Category struct {
	Queue domain.Queue

	// Ingest projects new source appointments into the queue before
	// claiming. Both appointment categories run it; the dedup key makes
	// the overlap harmless.
	Ingest bool

	// Windowed reads dispatch settings each tick and claims only records
	// whose appointment falls inside the reminder window.
	Windowed bool
}

func Welcome() Category {
	return Category{Queue: domain.QueueWelcome}
}

func Confirm() Category {
	return Category{Queue: domain.QueueConfirm, Ingest: true}
}

func Reminder() Category {
	return Category{Queue: domain.QueueReminder, Ingest: true, Windowed: true}
}
