package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestConsole_PromptReceivesNextLine(t *testing.T) {
	var out bytes.Buffer
	c := newConsole(&out)

	if c.dispatch("r") {
		t.Fatal("dispatch without pending prompt should not consume the line")
	}

	result := make(chan bool, 1)
	go func() {
		granted, err := c.Prompt(context.Background())
		if err != nil {
			t.Errorf("Prompt() error = %v", err)
		}
		result <- granted
	}()

	deadline := time.Now().Add(time.Second)
	for !c.dispatch("Y") {
		if time.Now().After(deadline) {
			t.Fatal("prompt never became pending")
		}
		time.Sleep(time.Millisecond)
	}
	if c.waiting() {
		t.Error("waiting() after answer = true")
	}
	if !<-result {
		t.Error("Prompt() = false, want true for Y")
	}
	if !strings.Contains(out.String(), "Allow humidity notifications?") {
		t.Errorf("output = %q", out.String())
	}
	if c.dispatch("q") {
		t.Error("answered prompt should not consume later lines")
	}
}

func TestConsole_PromptCancelled(t *testing.T) {
	c := newConsole(&bytes.Buffer{})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	granted, err := c.Prompt(ctx)
	if granted || !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Prompt() = %v, %v", granted, err)
	}
	if c.dispatch("y") {
		t.Error("cancelled prompt should be cleared")
	}
}

func TestReadLines(t *testing.T) {
	var got []string
	for line := range readLines(context.Background(), strings.NewReader(" r \nq\n")) {
		got = append(got, line)
	}
	if len(got) != 2 || got[0] != "r" || got[1] != "q" {
		t.Errorf("lines = %q", got)
	}
}

func TestParseCommand(t *testing.T) {
	tests := map[string]command{"r": cmdRefresh, "R": cmdRefresh, "refresh": cmdRefresh, "q": cmdQuit, "exit": cmdQuit, "": cmdNone, "x": cmdNone}
	for in, want := range tests {
		if got := parseCommand(in); got != want {
			t.Errorf("parseCommand(%q) = %v, want %v", in, got, want)
		}
	}
}
