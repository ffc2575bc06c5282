package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"dpdb"
	"dpdb/entity"
)

var shellCmd = &cobra.Command{
	Use:   "shell <file>",
	Short: "interactive get/put/delete/keys REPL against a dpdb file",
	Args:  cobra.ExactArgs(1),
	RunE:  runShell,
}

func init() {
	rootCmd.AddCommand(shellCmd)
}

func runShell(cmd *cobra.Command, args []string) error {
	db, err := dpdb.Open(args[0])
	if err != nil {
		return err
	}
	defer db.Close()

	root, err := db.Root()
	if err != nil {
		return err
	}

	tx := entity.AutoCommit()
	inTx := false

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("dpdb> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.EqualFold(line, "exit") || strings.EqualFold(line, "quit") {
			break
		}

		fields := splitShellLine(line)
		verb := strings.ToLower(fields[0])

		switch verb {
		case "get":
			if len(fields) != 2 {
				fmt.Println("usage: get <key>")
				continue
			}
			v, ok, err := root.Get(tx, fields[1])
			if err != nil {
				fmt.Println("error:", err)
			} else if !ok {
				fmt.Println("(not found)")
			} else {
				fmt.Printf("%v\n", v)
			}
		case "put":
			if len(fields) != 3 {
				fmt.Println("usage: put <key> <value>")
				continue
			}
			if err := root.Put(tx, fields[1], fields[2]); err != nil {
				fmt.Println("error:", err)
			}
		case "delete":
			if len(fields) != 2 {
				fmt.Println("usage: delete <key>")
				continue
			}
			if err := root.Delete(tx, fields[1]); err != nil {
				fmt.Println("error:", err)
			}
		case "keys":
			key, ok, err := root.FirstKey(tx)
			if err != nil {
				fmt.Println("error:", err)
				continue
			}
			for ok {
				fmt.Println(key)
				key, ok, err = root.NextKey(tx, key)
				if err != nil {
					fmt.Println("error:", err)
					break
				}
			}
		case "begin":
			if inTx {
				fmt.Println("error: already in a transaction")
				continue
			}
			tx, err = db.Begin()
			if err != nil {
				fmt.Println("error:", err)
				continue
			}
			inTx = true
			fmt.Println("tid:", tx.Tid())
		case "commit":
			if !inTx {
				fmt.Println("error: not in a transaction")
				continue
			}
			if err := db.Commit(tx); err != nil {
				fmt.Println("error:", err)
			}
			tx = entity.AutoCommit()
			inTx = false
		case "rollback":
			if !inTx {
				fmt.Println("error: not in a transaction")
				continue
			}
			if err := db.Rollback(tx); err != nil {
				fmt.Println("error:", err)
			}
			tx = entity.AutoCommit()
			inTx = false
		default:
			fmt.Println("unknown command:", verb)
			fmt.Println("commands: get put delete keys begin commit rollback exit")
		}
	}
	return nil
}

// splitShellLine splits on whitespace but keeps a quoted value's spaces
// intact, e.g. put name "Alice Smith" -> ["put", "name", "Alice Smith"].
func splitShellLine(line string) []string {
	var fields []string
	var cur strings.Builder
	inQuotes := false
	flush := func() {
		if cur.Len() > 0 {
			fields = append(fields, cur.String())
			cur.Reset()
		}
	}
	for _, r := range line {
		switch {
		case r == '"':
			inQuotes = !inQuotes
		case r == ' ' && !inQuotes:
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	if len(fields) == 0 {
		return []string{""}
	}
	return fields
}
