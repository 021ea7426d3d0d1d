package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"

	"devassist/internal/config"
	"devassist/internal/debug"
	"devassist/internal/editor"
	"devassist/internal/executor"
	"devassist/internal/history"
	"devassist/internal/input"
	"devassist/internal/intent"
	"devassist/internal/llm"
	"devassist/internal/pipeline"
	"devassist/internal/plan"
	"devassist/internal/speech"
)

// loadConfig resolves the configuration file and folds in flag
// overrides.
func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if apiKey != "" {
		cfg.LLM.APIKey = apiKey
	}
	if model != "" {
		cfg.LLM.Model = model
	}
	if noVoice {
		cfg.Speech.Enabled = false
	}
	return cfg, nil
}

func voiceStatus(cfg *config.Config) string {
	if !cfg.Speech.Enabled {
		return dimStyle.Render("disabled")
	}
	if _, err := speechEngine(cfg); err != nil {
		return failStyle.Render(fmt.Sprintf("%s not found", firstField(cfg.Speech.SpeakCommand)))
	}
	return okStyle.Render("enabled")
}

func speechEngine(cfg *config.Config) (*speech.CommandEngine, error) {
	fields := strings.Fields(cfg.Speech.SpeakCommand)
	if len(fields) == 0 {
		return nil, speech.ErrServiceUnavailable
	}
	return speech.NewCommandEngine(fields[0], fields[1:]...)
}

func speechRecognizer(cfg *config.Config) (*speech.CommandRecognizer, error) {
	fields := strings.Fields(cfg.Speech.ListenCommand)
	if len(fields) == 0 {
		return nil, speech.ErrServiceUnavailable
	}
	return speech.NewCommandRecognizer(fields[0], fields[1:]...)
}

func firstField(s string) string {
	if fields := strings.Fields(s); len(fields) > 0 {
		return fields[0]
	}
	return s
}

// runSession assembles the full pipeline and runs it. A non-empty
// query handles that one request and exits; otherwise the interactive
// loop runs until the user leaves.
func runSession(ctx context.Context, query string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	client, err := llm.NewFromConfig(ctx, cfg.LLM, llm.NewLimiter(cfg.LLM.MinInterval))
	if err != nil {
		return err
	}

	// Voice output degrades to print-only when the TTS program is
	// missing; voice input degrades to keyboard-only likewise.
	var engine speech.Engine
	var recognizer speech.Recognizer
	if cfg.Speech.Enabled {
		if e, err := speechEngine(cfg); err == nil {
			engine = e
		} else {
			logger.Warn("speech output unavailable", zap.Error(err))
		}
		if r, err := speechRecognizer(cfg); err == nil {
			recognizer = r
		} else {
			logger.Warn("speech input unavailable", zap.Error(err))
		}
	}
	voice := speech.NewChannel(engine, logger)
	defer voice.Close()

	var stdin io.Reader = os.Stdin
	if query != "" {
		// The request itself is the first line; prompts raised while
		// handling it still read from the keyboard.
		stdin = io.MultiReader(strings.NewReader(query+"\n"), os.Stdin)
	}
	console := input.NewConsole(stdin)

	arb := input.NewArbiter(console, recognizer, voice, input.Options{
		WakePhrase:    cfg.Speech.WakePhrase,
		ListenTimeout: cfg.Speech.ListenTimeout,
		PhraseLimit:   cfg.Speech.PhraseLimit,
	}, logger)

	prompter := pipeline.NewPrompter(console, voice, os.Stdout)

	session := editor.NewSession(editor.Options{
		Binary:    cfg.Editor.Binary,
		Socket:    cfg.Editor.SocketPath,
		QuitGrace: cfg.Editor.QuitGrace,
		Logger:    logger,
	})
	defer func() {
		if err := session.Close(); err != nil {
			logger.Warn("editor shutdown", zap.Error(err))
		}
	}()

	exec := executor.New(executor.Options{
		Voice:          voice,
		Prompter:       prompter,
		Files:          session,
		CommandTimeout: cfg.Execution.CommandTimeout,
		WorkDir:        cfg.Execution.WorkingDirectory,
		Logger:         logger,
	})

	advisor := debug.New(debug.Options{
		Voice:  voice,
		Runner: pipeline.NewFixRunner(exec),
		Asker:  prompter,
		Logger: logger,
	})

	var store *history.Store
	if s, err := history.Open(cfg.HistoryPath); err == nil {
		store = s
		defer store.Close()
	} else {
		logger.Warn("history unavailable, transcript will not persist", zap.Error(err))
	}

	pipe := pipeline.New(pipeline.Options{
		Arbiter:    arb,
		Voice:      voice,
		Classifier: intent.NewClassifier(client, cfg.OS, logger),
		Generator:  plan.NewGenerator(client, prompter, exec, cfg.OS, logger),
		Executor:   exec,
		Advisor:    advisor,
		Store:      store,
		Editor:     session,
		Logger:     logger,
	})

	if query != "" {
		_, err := pipe.RunTurn(ctx)
		voice.Flush(ctx)
		return err
	}
	return pipe.Run(ctx)
}
