package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/tanpawarit/apex-sales-agent/agent/crm"
	llmx "github.com/tanpawarit/apex-sales-agent/agent/llm"
	"github.com/tanpawarit/apex-sales-agent/agent/loop"
	"github.com/tanpawarit/apex-sales-agent/agent/prompt"
	"github.com/tanpawarit/apex-sales-agent/agent/rag"
	"github.com/tanpawarit/apex-sales-agent/agent/schedule"
	"github.com/tanpawarit/apex-sales-agent/agent/state"
	"github.com/tanpawarit/apex-sales-agent/agent/timeparse"
	"github.com/tanpawarit/apex-sales-agent/agent/tool"
	configx "github.com/tanpawarit/apex-sales-agent/pkg/config"
	gcalx "github.com/tanpawarit/apex-sales-agent/pkg/gcal"
	_ "github.com/tanpawarit/apex-sales-agent/pkg/logger/autoload"
	openrouterx "github.com/tanpawarit/apex-sales-agent/pkg/openrouter"
)

type AppConfig struct {
	CompanyName    string `envconfig:"COMPANY_NAME" split_words:"true" default:"Apex Digital Solutions"`
	EmbeddingModel string `envconfig:"EMBEDDING_MODEL" split_words:"true" default:"openai/text-embedding-3-small"`
	Timezone       string `envconfig:"TIMEZONE" split_words:"true" default:"America/New_York"`
}

func main() {
	appCfg := configx.MustNew[AppConfig]("APP")

	loc, err := time.LoadLocation(appCfg.Timezone)
	if err != nil {
		log.Fatal().Err(err).Str("timezone", appCfg.Timezone).Msg("invalid timezone")
	}

	openRouterCfg := configx.MustNew[openrouterx.Config]("OPENROUTER")
	openRouterClient := openrouterx.NewClient(*openRouterCfg)
	if openRouterClient == nil {
		log.Fatal().Msg("failed to initialize openrouter client")
	}

	chatModel, err := llmx.NewModel(openRouterClient, openRouterCfg.Model, openRouterCfg.Temperature, openRouterCfg.MaxTokens)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize chat model")
	}
	embedder, err := llmx.NewEmbedder(openRouterClient, appCfg.EmbeddingModel)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize embedder")
	}

	llmCfg := configx.MustNew[llmx.Config]("LLM")
	modelFor := func(concern llmx.Concern) *llmx.Model {
		name, _ := llmCfg.For(concern)
		if name == "" {
			return chatModel
		}
		return chatModel.WithModel(name)
	}

	// Knowledge base.
	vectorCfg := configx.MustNew[rag.StoreConfig]("RAG")
	vectorStore, err := rag.OpenStore(*vectorCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open vector store")
	}
	ragCfg := configx.MustNew[rag.Config]("RAG")
	knowledge, err := rag.NewEngine(embedder, vectorStore, modelFor(llmx.ConcernExpander), *ragCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize retrieval engine")
	}
	if err := knowledge.BuildIfEmpty(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("failed to build knowledge index")
	}

	// CRM.
	crmCfg := configx.MustNew[crm.StoreConfig]("CRM")
	leadStore, err := crm.Open(*crmCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open lead store")
	}
	_, qualifierTemp := llmCfg.For(llmx.ConcernQualifier)
	qualifier := crm.NewQualifier(modelFor(llmx.ConcernQualifier), qualifierTemp, appCfg.CompanyName)
	_, parserTemp := llmCfg.For(llmx.ConcernParser)
	capture := crm.NewCapture(qualifier, leadStore, modelFor(llmx.ConcernParser), parserTemp)

	// Scheduling.
	parser := timeparse.New(loc, modelFor(llmx.ConcernParser), parserTemp)
	gcalCfg := configx.MustNew[gcalx.Config]("GCAL")
	calendar, err := gcalx.NewClient(*gcalCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize calendar client")
	}
	scheduleCfg := configx.MustNew[schedule.Config]("SCHEDULE")
	scheduler, err := schedule.NewEngine(calendar, parser, capture, *scheduleCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize scheduler")
	}

	// Agent loop.
	catalog := tool.NewCatalog(knowledge, scheduler, capture, leadStore, parser)
	loopCfg := configx.MustNew[loop.Config]("AGENT")
	runner, err := loop.NewRunner(chatModel, catalog, prompt.System(loopCfg.PromptPath), *loopCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize agent runner")
	}

	runChat(runner)
}

// runChat is a minimal stdin/stdout front end around the agent runner.
func runChat(runner *loop.Runner) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conv := state.NewConversation(uuid.NewString(), time.Now())
	fmt.Println("Apex Digital Solutions assistant. Type 'exit' to quit.")

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			break
		}

		reply, err := runner.HandleTurn(ctx, conv, input)
		if err != nil {
			log.Error().Err(err).Msg("turn failed")
			fmt.Println("Sorry, something went wrong. Please try again.")
			continue
		}
		fmt.Println(reply)

		if ctx.Err() != nil {
			break
		}
	}
	fmt.Println("Goodbye!")
}
