package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"feedsync/internal/client"
	"feedsync/shared/logger"
)

const usage = `Usage: reader-client [flags] <command> [args]

Commands:
  queue <read|unread|star|unstar> <entry_id>   queue a mutation locally
  pending                                       list queued mutations
  failed                                        list mutations that exhausted retries
  retry <mutation_id>                           requeue a failed mutation
  drain                                         send queued mutations once
  watch                                         drain periodically until interrupted
`

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	dbPath := flag.String("db", "reader-client.db", "Path to the local queue database")
	serverURL := flag.String("server", "http://localhost:8080", "API base URL")
	userID := flag.String("user", "", "User id sent with mutations")
	interval := flag.Duration("interval", 30*time.Second, "Drain interval for watch")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("no command given")
	}

	appLogger := logger.NewDefault()

	queue, err := client.NewQueue(*dbPath)
	if err != nil {
		return err
	}
	defer queue.Close()

	sender := client.NewAPIClient(*serverURL, *userID, 15*time.Second)
	drainer := client.NewDrainer(queue, sender, appLogger.Logger)
	drainer.Notify(func(m client.Mutation, delivered bool) {
		if delivered {
			fmt.Printf("delivered %s %s (entry %s)\n", m.Type, m.ID, m.EntryID)
		} else {
			fmt.Printf("FAILED %s %s (entry %s): %s\n", m.Type, m.ID, m.EntryID, m.LastError)
		}
	})

	ctx := context.Background()

	switch args[0] {
	case "queue":
		if len(args) != 3 {
			return fmt.Errorf("queue requires a mutation type and an entry id")
		}
		mutationType, err := parseMutationType(args[1])
		if err != nil {
			return err
		}
		if *userID == "" {
			return fmt.Errorf("-user is required to queue mutations")
		}
		m, err := queue.Enqueue(mutationType, args[2])
		if err != nil {
			return err
		}
		fmt.Printf("queued %s %s (entry %s)\n", m.Type, m.ID, m.EntryID)
		return nil

	case "pending":
		pending, err := queue.Pending()
		if err != nil {
			return err
		}
		printMutations(pending)
		return nil

	case "failed":
		failed, err := queue.Failed()
		if err != nil {
			return err
		}
		printMutations(failed)
		return nil

	case "retry":
		if len(args) != 2 {
			return fmt.Errorf("retry requires a mutation id")
		}
		return queue.Retry(args[1])

	case "drain":
		delivered, err := drainer.Drain(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("delivered %d mutation(s)\n", delivered)
		return nil

	case "watch":
		watchCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			<-quit
			cancel()
		}()

		appLogger.Info("Watching queue", slog.Duration("interval", *interval))
		if _, err := drainer.Drain(watchCtx); err != nil {
			appLogger.Error("Drain failed", slog.String("error", err.Error()))
		}
		drainer.Start(watchCtx, *interval)
		return nil

	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func parseMutationType(s string) (string, error) {
	switch s {
	case "read":
		return client.MutationMarkRead, nil
	case "unread":
		return client.MutationMarkUnread, nil
	case "star":
		return client.MutationStar, nil
	case "unstar":
		return client.MutationUnstar, nil
	default:
		return "", fmt.Errorf("unknown mutation type %q", s)
	}
}

func printMutations(mutations []client.Mutation) {
	if len(mutations) == 0 {
		fmt.Println("no mutations")
		return
	}
	for _, m := range mutations {
		fmt.Printf("%s  %-10s entry=%s status=%s retries=%d", m.ID, m.Type, m.EntryID, m.Status, m.RetryCount)
		if m.LastError != "" {
			fmt.Printf(" error=%q", m.LastError)
		}
		fmt.Println()
	}
}
