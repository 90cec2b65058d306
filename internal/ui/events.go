package ui

import (
	"fmt"
	"io"
	"math"
	"sync"

	"github.com/ceymard/chest/internal/events"
)

// Printer renders helper events. Progress lines overwrite each other on a terminal and are dropped otherwise.
// The end of a burst advances to a new line so the last progress line, or the final message, stays visible.
type Printer struct {
	Out     io.Writer
	TTY     bool
	Verbose bool

	mu       sync.Mutex
	progress bool
}

// NewPrinter returns a printer writing to Out.
func NewPrinter(verbose bool) *Printer {
	return &Printer{Out: Out, TTY: IsTerminal(Out), Verbose: verbose}
}

// Handle renders one record according to its route.
func (p *Printer) Handle(rec events.Record) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch rec.Route {
	case events.RouteProgress:
		p.showProgress(rec.Event)
	case events.RouteError:
		p.endProgress()
		fmt.Fprintf(p.Out, "  %s %s\n", Red("⚠"), message(rec.Event))
	case events.RouteWarning:
		p.endProgress()
		fmt.Fprintf(p.Out, "  %s %s\n", Yellow("⚠"), message(rec.Event))
	case events.RouteDiagnostic:
		if p.Verbose {
			p.endProgress()
			fmt.Fprintf(p.Out, "  %s\n", Dim(message(rec.Event)))
		}
	}
}

func (p *Printer) showProgress(ev events.Event) {
	if !p.TTY {
		return
	}
	if events.Finished(ev) {
		p.finishProgress(ev)
		return
	}
	line := ProgressLine(ev)
	if line == "" {
		return
	}
	fmt.Fprintf(p.Out, "\r\033[K  %s %s", Magenta("-"), line)
	p.progress = true
}

func (p *Printer) finishProgress(ev events.Event) {
	switch final := finalMessage(ev); {
	case final != "":
		fmt.Fprintf(p.Out, "\r\033[K  %s %s\n", Magenta("-"), final)
	case p.progress:
		fmt.Fprint(p.Out, "\n")
	}
	p.progress = false
}

func finalMessage(ev events.Event) string {
	switch e := ev.(type) {
	case events.ProgressPercent:
		return e.Message
	case events.ProgressMessage:
		return e.Message
	default:
		return ""
	}
}

func (p *Printer) endProgress() {
	if p.progress {
		fmt.Fprint(p.Out, "\r\033[K")
		p.progress = false
	}
}

// Close clears a pending progress line.
func (p *Printer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.endProgress()
}

// ProgressLine returns the text shown for a progress event.
func ProgressLine(ev events.Event) string {
	switch e := ev.(type) {
	case events.ProgressPercent:
		if e.Message != "" {
			return e.Message
		}
		return fmt.Sprintf("%s/%s", FormatBytes(e.Current), FormatBytes(e.Total))
	case events.ProgressMessage:
		return e.Message
	case events.ArchiveProgress:
		return fmt.Sprintf("O %s C %s D %s N %d %s", FormatBytes(e.OriginalSize), FormatBytes(e.CompressedSize),
			FormatBytes(e.DeduplicatedSize), e.NFiles, e.Path)
	default:
		return ""
	}
}

func message(ev events.Event) string {
	switch e := ev.(type) {
	case events.LogMessage:
		return e.Message
	case events.Text:
		return e.Line
	case events.Opaque:
		return string(e.Raw)
	default:
		return ev.Type()
	}
}

// Stats prints the outcome of a backup.
func Stats(s events.Stats) {
	star := Magenta("*")
	fmt.Fprintf(Out, "  %s duration %ss\n", star, Green(fmt.Sprintf("%g", math.Round(100*s.Duration)/100)))
	fmt.Fprintf(Out, "  %s deduplicated size %s, uncompressed %s\n", star, Green(FormatBytes(s.DeduplicatedSize)), Red(FormatBytes(s.OriginalSize)))
	fmt.Fprintf(Out, "  %s repository size %s\n", star, Green(FormatBytes(s.RepositorySize)))
	fmt.Fprintf(Out, "  %s %s\n", Green("->"), Bold(Magenta(s.ArchiveName)))
}

// Archives prints a repository listing to w, one archive per line.
func Archives(w io.Writer, list events.ArchiveList) {
	for _, a := range list.Archives {
		fmt.Fprintf(w, "%s %s\n", a.Name, Dim(a.Time))
	}
}
