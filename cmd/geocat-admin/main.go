// Command geocat-admin administers a geocatalog index: registering metadata
// types and products from YAML definitions, indexing dataset documents, and
// searching with simple field expressions.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/uuid"

	"geocatalog/internal/config"
	"geocatalog/internal/core"
	"geocatalog/pkg/domain"
)

var exitFunc = os.Exit

func usage() {
	fmt.Fprintf(os.Stderr, `usage: geocat-admin [-config FILE] COMMAND [ARGS]

commands:
  metadata-types                 list registered metadata types
  products                       list registered products
  add-metadata-type FILE         register a metadata type from a YAML definition
  add-product FILE               register a product from a YAML definition
  index PRODUCT FILE             validate and index a dataset document
  search PRODUCT [EXPR...]       search datasets, e.g. platform=landsat-8 time in [2020-01-01, 2020-02-01]
  archive ID                     archive a dataset
  restore ID                     restore an archived dataset
`)
}

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() == 0 {
		usage()
		exitFunc(2)
		return
	}

	if err := run(context.Background(), *configPath, flag.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "geocat-admin: %v\n", err)
		exitFunc(1)
	}
}

func run(ctx context.Context, configPath string, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	store, err := config.OpenStore(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	svc := core.NewService(store, nil,
		core.WithLogger(cfg.Logging.Logger(os.Stderr)),
	)
	if err := core.RegisterDefaults(svc.Registry()); err != nil {
		return err
	}

	command, rest := args[0], args[1:]
	switch command {
	case "metadata-types":
		for _, mt := range svc.Registry().MetadataTypes() {
			fmt.Printf("%s\t%s\n", mt.Name, mt.Description)
		}
		return nil

	case "products":
		for _, p := range svc.Registry().Products() {
			fmt.Printf("%s\t%s\n", p.Name, p.Description)
		}
		return nil

	case "add-metadata-type":
		if len(rest) != 1 {
			return fmt.Errorf("add-metadata-type takes one definition file")
		}
		payload, err := os.ReadFile(rest[0])
		if err != nil {
			return err
		}
		mt, err := core.ParseMetadataTypeDefinition(payload)
		if err != nil {
			return err
		}
		if err := svc.RegisterMetadataType(ctx, mt); err != nil {
			return err
		}
		fmt.Printf("registered metadata type %s\n", mt.Name)
		return nil

	case "add-product":
		if len(rest) != 1 {
			return fmt.Errorf("add-product takes one definition file")
		}
		payload, err := os.ReadFile(rest[0])
		if err != nil {
			return err
		}
		p, err := core.ParseProductDefinition(payload)
		if err != nil {
			return err
		}
		if err := svc.RegisterProduct(ctx, p); err != nil {
			return err
		}
		fmt.Printf("registered product %s\n", p.Name)
		return nil

	case "index":
		if len(rest) != 2 {
			return fmt.Errorf("index takes a product name and a document file")
		}
		payload, err := os.ReadFile(rest[1])
		if err != nil {
			return err
		}
		doc, err := core.ParseDocument(payload)
		if err != nil {
			return err
		}
		ds, err := svc.IndexDataset(ctx, rest[0], doc)
		if err != nil {
			return err
		}
		fmt.Printf("indexed %s\n", ds.ID)
		return nil

	case "search":
		if len(rest) < 1 {
			return fmt.Errorf("search takes a product name and optional expressions")
		}
		terms, window, err := core.ParseExpressions(rest[1:])
		if err != nil {
			return err
		}
		seq, err := svc.Search(ctx, domain.Query{Product: rest[0], Terms: terms, Time: window})
		if err != nil {
			return err
		}
		datasets, err := seq.Collect()
		if err != nil {
			return err
		}
		for _, ds := range datasets {
			fmt.Printf("%s\t%s\t%s\n", ds.ID, ds.Time.Start.Format("2006-01-02T15:04:05Z"), ds.Label)
		}
		return nil

	case "archive", "restore":
		if len(rest) != 1 {
			return fmt.Errorf("%s takes one dataset id", command)
		}
		id, err := uuid.Parse(rest[0])
		if err != nil {
			return fmt.Errorf("malformed dataset id %q", rest[0])
		}
		if command == "archive" {
			return svc.ArchiveDataset(ctx, id)
		}
		return svc.RestoreDataset(ctx, id)

	default:
		usage()
		return fmt.Errorf("unknown command %q", command)
	}
}
