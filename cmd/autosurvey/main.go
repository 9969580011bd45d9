package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"

	"autosurvey/internal/config"
	"autosurvey/internal/domain"
	"autosurvey/internal/knowledge"
	"autosurvey/internal/summarizer"
	"autosurvey/internal/tui"
)

const usage = `Usage: autosurvey [--config=config.yaml] <command> [flags] [args]

Commands:
  ingest [--title T] file...   add .txt/.md files to the knowledge base
  docs [--digest]              list knowledge documents
  show <document-id>           print a document summary
  chunks <document-id>         list the chunks of a document
  delete <document-id>...      remove documents with their chunks
  search [query]               search the knowledge base (interactive without a query)
  run --url URL [flags]        answer a questionnaire
  sessions [--limit N]         list recent sessions
  answers <session-id>         list the answers of a session
`

func main() {
	_ = godotenv.Load()

	var cfgPath string
	flag.StringVar(&cfgPath, "config", "", "Path to YAML config file (optional; uses ~/.config/autosurvey/config.yaml if not provided)")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(1)
	}

	var cfg *config.AppConfig
	var err error
	if cfgPath == "" {
		cfg, _, err = config.LoadDefault()
	} else {
		cfg, err = config.Load(cfgPath)
	}
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		log.Fatalf("startup failed: %v", err)
	}
	defer a.Close()

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "ingest":
		err = a.ingest(ctx, rest)
	case "docs":
		err = a.docs(ctx, rest)
	case "show":
		err = a.show(ctx, rest)
	case "chunks":
		err = a.chunks(ctx, rest)
	case "delete":
		err = a.delete(ctx, rest)
	case "search":
		err = a.search(ctx, rest)
	case "run":
		err = a.run(ctx, rest)
	case "sessions":
		err = a.sessions(ctx, rest)
	case "answers":
		err = a.answers(ctx, rest)
	default:
		flag.Usage()
		a.Close()
		os.Exit(1)
	}
	if err != nil {
		a.Close()
		log.Fatalf("%s failed: %v", cmd, err)
	}
}

func (a *app) ingest(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	title := fs.String("title", "", "document title (single file only)")
	_ = fs.Parse(args)
	paths := fs.Args()
	if len(paths) == 0 {
		return fmt.Errorf("no files given")
	}
	if *title != "" {
		if len(paths) != 1 {
			return fmt.Errorf("--title needs exactly one file")
		}
		data, err := os.ReadFile(paths[0])
		if err != nil {
			return err
		}
		doc, err := a.kb.AddDocument(ctx, knowledge.NewDocument{
			Title:    *title,
			Filename: paths[0],
			FileType: strings.TrimPrefix(strings.ToLower(filepath.Ext(paths[0])), "."),
			Content:  string(data),
		})
		if err != nil {
			return err
		}
		fmt.Printf("added %s %q (%d chunks)\n", doc.ID, doc.Title, doc.TotalChunks)
		return nil
	}
	docs, err := a.kb.IngestFiles(ctx, paths)
	for _, doc := range docs {
		fmt.Printf("added %s %q (%d chunks)\n", doc.ID, doc.Title, doc.TotalChunks)
	}
	return err
}

func (a *app) docs(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("docs", flag.ExitOnError)
	digest := fs.Bool("digest", false, "print a short summary of every document")
	_ = fs.Parse(args)
	docs, err := a.kb.ListDocuments(ctx)
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		fmt.Println("knowledge base is empty")
		return nil
	}
	if *digest {
		titles := make([]string, len(docs))
		contents := make([]string, len(docs))
		for i, d := range docs {
			titles[i], contents[i] = d.Title, d.Content
		}
		fmt.Println(summarizer.NewFrequencySummarizer().Digest(titles, contents, 1))
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tTYPE\tCHUNKS\tCREATED")
	for _, d := range docs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", d.ID, d.Title, d.FileType, d.TotalChunks, d.CreatedAt.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

func (a *app) show(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: show <document-id>")
	}
	d, err := a.kb.GetDocument(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Printf("%s\n%s, %d chunks, added %s\n\n", d.Title, d.Filename, d.TotalChunks, d.CreatedAt.Format("2006-01-02 15:04"))
	fmt.Println(summarizer.NewFrequencySummarizer().Summarize(d.Content, 3))
	return nil
}

func (a *app) chunks(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: chunks <document-id>")
	}
	chunks, err := a.kb.Chunks(ctx, args[0])
	if err != nil {
		return err
	}
	for _, c := range chunks {
		fmt.Printf("#%d [%d:%d]\n%s\n\n", c.ChunkIndex, c.StartPos, c.EndPos, c.Content)
	}
	return nil
}

func (a *app) delete(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: delete <document-id>...")
	}
	for _, id := range args {
		if err := a.kb.DeleteDocument(ctx, id); err != nil {
			return fmt.Errorf("%s: %w", id, err)
		}
		fmt.Println("deleted", id)
	}
	return nil
}

func (a *app) search(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	topK := fs.Int("top", a.cfg.Retrieval.TopK, "number of results")
	threshold := fs.Float64("threshold", a.cfg.Retrieval.ScoreThreshold, "minimum similarity")
	_ = fs.Parse(args)
	params := retrieveParams(a.cfg)
	params.TopK, params.ScoreThreshold = *topK, *threshold
	searcher := kbSearcher{kb: a.kb, params: params}

	if q := strings.TrimSpace(strings.Join(fs.Args(), " ")); q != "" {
		refs, err := searcher.Search(ctx, q)
		if err != nil {
			if !errors.Is(err, domain.ErrRetrievalDegraded) {
				return err
			}
			a.log.Warn("search degraded", "error", err)
		}
		if len(refs) == 0 {
			fmt.Println("no results")
		}
		for i, r := range refs {
			fmt.Printf("%d. %s #%d  similarity=%.3f\n%s\n\n", i+1, r.DocumentTitle, r.ChunkIndex, r.Similarity, r.Content)
		}
		return nil
	}

	docs, err := a.kb.ListDocuments(ctx)
	if err != nil {
		return err
	}
	titles := make([]string, 0, len(docs))
	for _, d := range docs {
		titles = append(titles, d.Title)
	}
	summary := fmt.Sprintf("%d documents: %s", len(docs), strings.Join(titles, ", "))
	_, err = tea.NewProgram(tui.New(searcher, summary), tea.WithContext(ctx)).Run()
	return err
}
