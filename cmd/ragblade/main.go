package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/micro"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/flarexio/ragblade"
	"github.com/flarexio/ragblade/source/fs"

	mcpE "github.com/flarexio/ragblade/mcp"
	httpT "github.com/flarexio/ragblade/transport/http"
	natsT "github.com/flarexio/ragblade/transport/nats"
)

func main() {
	if err := loadEnv(".env"); err != nil {
		log.Fatal(err.Error())
	}

	cmd := &cli.Command{
		Name:  "ragblade",
		Usage: "RAGBlade document question answering service",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "path",
				Usage: "Path to the RAGBlade service",
			},
			&cli.StringFlag{
				Name:    "token",
				Usage:   "Provider API token, overrides provider.token",
				Sources: cli.EnvVars("RAGBLADE_TOKEN", "OPENAI_API_KEY"),
			},
			&cli.StringFlag{
				Name:    "dsn",
				Usage:   "PostgreSQL DSN for the pgvector engine, overrides index.dsn",
				Sources: cli.EnvVars("RAGBLADE_PG_DSN"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "Serve the HTTP and NATS transports",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "nats",
						Usage:   "NATS server URL",
						Value:   "wss://nats.flarex.io",
						Sources: cli.EnvVars("NATS_URL"),
					},
					&cli.BoolFlag{
						Name:  "http",
						Usage: "Enable HTTP transport",
						Value: false,
					},
					&cli.StringFlag{
						Name:  "http-addr",
						Usage: "HTTP server address",
						Value: ":8080",
					},
				},
				Action: serve,
			},
			{
				Name:  "ingest",
				Usage: "Ingest the documents of a directory",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "source",
						Usage:    "Directory to load documents from",
						Required: true,
					},
					&cli.StringSliceFlag{
						Name:  "ext",
						Usage: "File extensions to load (default: all supported)",
					},
				},
				Action: ingest,
			},
			{
				Name:      "search",
				Usage:     "Print the fragments closest to a query",
				ArgsUsage: "<query>",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "k",
						Usage: "Number of fragments (default: retrieval.k)",
					},
				},
				Action: search,
			},
			{
				Name:      "ask",
				Usage:     "Answer a question from the indexed documents",
				ArgsUsage: "<question>",
				Action:    ask,
			},
			{
				Name:   "drop",
				Usage:  "Drop the configured collection",
				Action: drop,
			},
		},
	}

	err := cmd.Run(context.Background(), os.Args)
	if err != nil {
		log.Fatal(err.Error())
	}
}

// loadEnv loads name into the environment before the flags read their
// sources. A missing file is not an error.
func loadEnv(name string) error {
	err := godotenv.Load(name)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}

	return nil
}

func serve(ctx context.Context, cmd *cli.Command) error {
	app, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	log := zap.L()
	svc := app.svc

	endpoints := ragblade.NewEndpointSet(svc)

	// Add NATS Transport
	idBytes, err := os.ReadFile(filepath.Join(app.path, "id"))
	switch {
	case errors.Is(err, os.ErrNotExist):
		log.Warn("edge id not found, NATS transport disabled")

	case err != nil:
		return err

	default:
		edgeID := strings.TrimSpace(string(idBytes))
		natsURL := cmd.String("nats")
		natsCreds := filepath.Join(app.path, "user.creds")

		nc, err := nats.Connect(natsURL,
			nats.Name("RAGBlade Server - "+edgeID),
			nats.UserCredentials(natsCreds),
		)

		if err != nil {
			return err
		}
		defer nc.Drain()

		srv, err := micro.AddService(nc, micro.Config{
			Name:    "ragblade",
			Version: "1.0.0",
		})

		if err != nil {
			return err
		}
		defer srv.Stop()

		topic := "edges." + edgeID + ".ragblade"

		root := srv.AddGroup(topic)
		if err := natsT.AddEndpoints(root, endpoints); err != nil {
			return err
		}
	}

	httpEnabled := cmd.Bool("http")
	if httpEnabled {
		r := gin.Default()
		httpT.AddRouters(r, endpoints)

		endpoints := make(map[mcp.MCPMethod]mcpE.MCPEndpoint)
		endpoints[mcp.MethodInitialize] = mcpE.InitializeEndpoint(svc)
		endpoints[mcp.MethodPing] = mcpE.PingEndpoint(svc)
		endpoints[mcp.MethodToolsList] = mcpE.ListToolsEndpoint(svc)
		endpoints[mcp.MethodToolsCall] = mcpE.CallToolEndpoint(svc)
		httpT.AddStreamableRouters(r, endpoints)

		srv := &http.Server{
			Addr:    cmd.String("http-addr"),
			Handler: r,
		}

		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error(err.Error())
			}
		}()

		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			srv.Shutdown(ctx)
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sign := <-quit

	log.Info("graceful shutdown", zap.String("signal", sign.String()))
	return nil
}

func ingest(ctx context.Context, cmd *cli.Command) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	src := fs.NewSource(cmd.String("source"), cmd.StringSlice("ext")...)

	report, err := ragblade.IngestSource(ctx, app.svc, src)
	if err != nil {
		return err
	}

	return printJSON(report)
}

func search(ctx context.Context, cmd *cli.Command) error {
	query := strings.Join(cmd.Args().Slice(), " ")

	app, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	result, err := app.svc.Search(ctx, query, int(cmd.Int("k")), nil)
	if err != nil {
		return err
	}

	return printJSON(result)
}

func ask(ctx context.Context, cmd *cli.Command) error {
	question := strings.Join(cmd.Args().Slice(), " ")

	app, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	answer, err := app.svc.Answer(ctx, question)
	if err != nil {
		return err
	}

	fmt.Fprintln(os.Stdout, answer.Text)

	if answer.Grounded() {
		fmt.Fprintf(os.Stdout, "\nSources: %s\n", strings.Join(answer.Fragments, ", "))
	}

	return nil
}

func drop(ctx context.Context, cmd *cli.Command) error {
	app, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	return app.svc.Drop(ctx)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
