// Command dbio-admin exercises a dbio store from the shell: create, inspect,
// and mutate records, manage groups, and dump provenance. Configuration comes
// from the DBIO_* environment variables documented in pkg/dbio.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"dbio/internal/backend"
	"dbio/pkg/dbio"
)

var exitFunc = os.Exit

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "dbio-admin:", err)
		exitFunc(1)
	}
}

func usage() string {
	return `usage: dbio-admin -as <principal> [-collection <name>] <command> [args]

commands:
  create <name> [json-data]       mint and store a record
  get <id>                        print a record
  get-name <name> [owner]         look a record up by owner and name
  select                          list readable records
  query <json-query>              evaluate {"filter": ..., "permissions": [...]}
                                  (a bare filter tree also works)
  update <id> <json-data>         replace a record's data document
  delete <id>                     delete a record
  publish <id> <published-as> <version>  drive a record to PUBLISHED
  actions <id>                    print the live action log
  history <id>                    print archived history entries
  groups-for <principal>          print the resolved group closure`
}

func run(args []string) error {
	fs := flag.NewFlagSet("dbio-admin", flag.ContinueOnError)
	who := fs.String("as", "", "acting principal (required)")
	collection := fs.String("collection", "projects", "record collection")
	fs.Usage = func() { fmt.Fprintln(os.Stderr, usage()) }
	if err := fs.Parse(args); err != nil {
		return err
	}
	rest := fs.Args()
	if *who == "" || len(rest) == 0 {
		return fmt.Errorf("missing principal or command\n%s", usage())
	}

	svc, err := backend.OpenFromEnv()
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()

	ctx := context.Background()
	client := svc.Client(*collection, *who)
	cmd, cmdArgs := rest[0], rest[1:]

	switch cmd {
	case "create":
		if len(cmdArgs) < 1 {
			return fmt.Errorf("create needs a record name")
		}
		data, err := parseDoc(cmdArgs, 1)
		if err != nil {
			return err
		}
		rec, err := client.Create(ctx, cmdArgs[0], data, "")
		if err != nil {
			return err
		}
		return printJSON(rec)
	case "get":
		if len(cmdArgs) != 1 {
			return fmt.Errorf("get needs a record id")
		}
		rec, err := client.Get(ctx, cmdArgs[0], dbio.ReadPermission)
		if err != nil {
			return err
		}
		return printJSON(rec)
	case "get-name":
		if len(cmdArgs) < 1 {
			return fmt.Errorf("get-name needs a record name")
		}
		owner := []string{}
		if len(cmdArgs) > 1 {
			owner = append(owner, cmdArgs[1])
		}
		rec, err := client.GetByName(ctx, cmdArgs[0], owner...)
		if err != nil {
			return err
		}
		if rec == nil {
			fmt.Println("null")
			return nil
		}
		return printJSON(rec)
	case "select":
		recs, err := client.Select(ctx)
		if err != nil {
			return err
		}
		return printJSON(recs)
	case "query":
		if len(cmdArgs) != 1 {
			return fmt.Errorf("query needs a json query")
		}
		q, err := parseQuery(cmdArgs[0])
		if err != nil {
			return err
		}
		recs, err := client.AdvancedSelect(ctx, q.Filter, q.Permissions...)
		if err != nil {
			return err
		}
		return printJSON(recs)
	case "update":
		if len(cmdArgs) != 2 {
			return fmt.Errorf("update needs an id and json data")
		}
		rec, err := client.Get(ctx, cmdArgs[0], dbio.WritePermission)
		if err != nil {
			return err
		}
		data, err := parseDoc(cmdArgs, 1)
		if err != nil {
			return err
		}
		rec.Data = data
		if err := client.Update(ctx, rec); err != nil {
			return err
		}
		return printJSON(rec)
	case "delete":
		if len(cmdArgs) != 1 {
			return fmt.Errorf("delete needs a record id")
		}
		deleted, err := client.Delete(ctx, cmdArgs[0])
		if err != nil {
			return err
		}
		fmt.Println(deleted)
		return nil
	case "publish":
		if len(cmdArgs) != 3 {
			return fmt.Errorf("publish needs an id, a public identifier, and a version")
		}
		rec, err := client.Publish(ctx, cmdArgs[0], cmdArgs[1], cmdArgs[2], "")
		if err != nil {
			return err
		}
		return printJSON(rec)
	case "actions":
		if len(cmdArgs) != 1 {
			return fmt.Errorf("actions needs a record id")
		}
		actions, err := client.Actions(ctx, cmdArgs[0])
		if err != nil {
			return err
		}
		return printJSON(actions)
	case "history":
		if len(cmdArgs) != 1 {
			return fmt.Errorf("history needs a record id")
		}
		entries, err := client.History(ctx, cmdArgs[0])
		if err != nil {
			return err
		}
		return printJSON(entries)
	case "groups-for":
		if len(cmdArgs) != 1 {
			return fmt.Errorf("groups-for needs a principal")
		}
		ids, err := svc.Groups(*who).SelectIDsForUser(ctx, cmdArgs[0])
		if err != nil {
			return err
		}
		return printJSON(ids)
	default:
		return fmt.Errorf("unknown command %q\n%s", cmd, usage())
	}
}

// parseQuery accepts the advanced-select wire envelope; a document without a
// "filter" key is taken as a bare filter tree.
func parseQuery(raw string) (dbio.SelectQuery, error) {
	var doc map[string]any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return dbio.SelectQuery{}, fmt.Errorf("parse query: %w", err)
	}
	if _, ok := doc["filter"]; !ok {
		return dbio.SelectQuery{Filter: doc}, nil
	}
	var q dbio.SelectQuery
	if err := json.Unmarshal([]byte(raw), &q); err != nil {
		return dbio.SelectQuery{}, fmt.Errorf("parse query: %w", err)
	}
	return q, nil
}

func parseDoc(args []string, idx int) (map[string]any, error) {
	if len(args) <= idx {
		return nil, nil
	}
	var doc map[string]any
	if err := json.Unmarshal([]byte(args[idx]), &doc); err != nil {
		return nil, fmt.Errorf("parse data document: %w", err)
	}
	return doc, nil
}

func printJSON(v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(raw))
	return nil
}
