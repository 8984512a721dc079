package bot

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"btc-stream/internal/chart"
	"btc-stream/internal/domain"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	tele "gopkg.in/telebot.v3"
)

const (
	maxListedTables = 10
	commandTimeout  = 10 * time.Second
)

type TableQuerier interface {
	ListTables(ctx context.Context) ([]string, error)
	FetchTable(ctx context.Context, name string) ([]domain.DataPoint, error)
}

// StartTelegramBot starts the command bot and returns the dispatcher that
// should receive store health transitions. It returns nil when token is
// empty or the bot cannot be created.
func StartTelegramBot(token string, queries TableQuerier) *AlertDispatcher {
	if token == "" {
		log.Println("TELEGRAM_BOT_TOKEN not set, skipping Telegram bot startup")
		return nil
	}
	pref := tele.Settings{
		Token:  token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
	}
	b, err := tele.NewBot(pref)
	if err != nil {
		log.WithError(err).Error("failed to create Telegram bot")
		return nil
	}
	alerts := NewAlertDispatcher(b)
	renderer := chart.NewRenderer()

	b.Handle("/ping", func(c tele.Context) error {
		return c.Send("pong")
	})

	b.Handle("/tables", func(c tele.Context) error {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		return c.Send(tablesMessage(ctx, queries))
	})

	b.Handle("/latest", func(c tele.Context) error {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		return c.Send(latestMessage(ctx, queries))
	})

	b.Handle("/chart", func(c tele.Context) error {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()

		table, points, err := resolveTable(ctx, queries, c.Args())
		if err != nil {
			return c.Send(fmt.Sprintf("Error: %v", err))
		}
		img, err := renderer.RenderPriceChart(points)
		if err != nil {
			return c.Send(fmt.Sprintf("Cannot chart %s: %v", table, err))
		}
		return c.Send(&tele.Photo{
			File:    tele.FromReader(bytes.NewReader(img.Bytes)),
			Caption: fmt.Sprintf("%s (%d points)", table, len(points)),
		})
	})

	b.Handle("/alerts", func(c tele.Context) error {
		chat := c.Chat()
		if chat == nil {
			return c.Send("Unable to detect chat")
		}

		mode, err := parseAlertMode(c.Args())
		if err != nil {
			return c.Send("Usage: /alerts on | /alerts off | /alerts status")
		}

		switch mode {
		case "on":
			if alerts.Subscribe(chat.ID) {
				return c.Send("Store alerts enabled for this chat.")
			}
			return c.Send("Store alerts are already enabled for this chat.")
		case "off":
			if alerts.Unsubscribe(chat.ID) {
				return c.Send("Store alerts disabled for this chat.")
			}
			return c.Send("Store alerts are already disabled for this chat.")
		default:
			if alerts.IsSubscribed(chat.ID) {
				return c.Send("Alerts status: ON")
			}
			return c.Send("Alerts status: OFF")
		}
	})

	alerts.stop = b.Stop
	log.Println("Telegram bot started")
	go b.Start()
	return alerts
}

func tablesMessage(ctx context.Context, queries TableQuerier) string {
	if queries == nil {
		return "Query service unavailable"
	}
	tables, err := queries.ListTables(ctx)
	if err != nil {
		return fmt.Sprintf("Error listing tables: %v", err)
	}
	if len(tables) == 0 {
		return "No tables yet."
	}
	shown := tables
	if len(shown) > maxListedTables {
		shown = shown[:maxListedTables]
	}
	msg := "Tables:\n" + strings.Join(shown, "\n")
	if len(tables) > len(shown) {
		msg += fmt.Sprintf("\n... and %d more", len(tables)-len(shown))
	}
	return msg
}

func latestMessage(ctx context.Context, queries TableQuerier) string {
	if queries == nil {
		return "Query service unavailable"
	}
	table, points, err := resolveTable(ctx, queries, nil)
	if err != nil {
		return fmt.Sprintf("Error: %v", err)
	}
	last := points[len(points)-1]
	return fmt.Sprintf("%s #%d\nPrice: %s\nPoints today: %d", table, last.SequenceID, last.Value.StringFixed(2), len(points))
}

// resolveTable loads the table named in args, or the most recent table.
func resolveTable(ctx context.Context, queries TableQuerier, args []string) (string, []domain.DataPoint, error) {
	var name string
	if len(args) > 0 {
		name = strings.TrimSpace(args[0])
	} else {
		tables, err := queries.ListTables(ctx)
		if err != nil {
			return "", nil, errors.Wrap(err, "list tables")
		}
		if len(tables) == 0 {
			return "", nil, errors.New("no tables yet")
		}
		name = tables[0]
	}

	points, err := queries.FetchTable(ctx, name)
	if err != nil {
		return name, nil, err
	}
	if len(points) == 0 {
		return name, nil, errors.Errorf("%s has no points yet", name)
	}
	return name, points, nil
}
