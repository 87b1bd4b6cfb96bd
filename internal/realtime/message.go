// Package realtime fans dataset change events out to server-sent event clients.
package realtime

type Event string

const (
	EventTransactions Event = "transactions"
	EventJournal      Event = "journal"
	EventProgress     Event = "extension-progress"
)

type Message struct {
	Channel string `json:"channel"`
	Event   Event  `json:"event"`
	Data    any    `json:"data,omitempty"`
}

func TransactionsChannel(datasetID string) string { return "datasets/" + datasetID + "/transactions" }

func JournalChannel(datasetID string) string { return "datasets/" + datasetID + "/journal" }

func ProgressChannel(datasetID string) string { return "datasets/" + datasetID + "/progress" }
