package main

import (
	"fmt"
	"os"
	"strings"

	"snare/internal/cli"

	_ "github.com/denisenkom/go-mssqldb"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

const usage = `snare - Lua script execution engine

Usage:
  snare [serve]                                  start the HTTP API
  snare run <script.lua> <request-file|-> [args] execute a script once
  snare check [--json] <script.lua>              load a script and show its schema
  snare list [dir]                               load every script in a directory
  snare key:generate                             write a new API_JWT_SECRET to .env
  snare token [-sub name] [-ttl 24h]             print a bearer token for the API
  snare version                                  print the version`

func main() {
	// 1. CLI DISPATCHER
	if len(os.Args) < 2 {
		cli.HandleServe()
		return
	}

	cmd := os.Args[1]
	switch cmd {
	case "serve":
		cli.HandleServe()
	case "run":
		cli.HandleRun(os.Args[2:])
	case "check":
		cli.HandleCheck(os.Args[2:])
	case "list":
		cli.HandleList(os.Args[2:])
	case "key:generate":
		cli.HandleKeyGenerate()
	case "token":
		cli.HandleToken(os.Args[2:])
	case "version", "--version", "-v":
		cli.HandleVersion()
	case "help", "--help", "-h":
		fmt.Println(usage)
	default:
		// Automatically run if it ends with .lua
		if strings.HasSuffix(cmd, ".lua") {
			cli.HandleRun(os.Args[1:])
			return
		}
		fmt.Printf("❌ Unknown command: %s\n\n%s\n", cmd, usage)
		os.Exit(1)
	}
}
