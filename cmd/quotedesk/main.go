// QuoteDesk CLI entry point
//
// QuoteDesk keeps a field team's quotes, customers, and activity records
// editable with or without connectivity. Writes land in the local SQLite
// cache first and drain to the remote store through a durable queue.
package main

import "github.com/quotedesk/quotedesk/internal/presentation/cli/commands"

func main() {
	commands.Execute()
}
