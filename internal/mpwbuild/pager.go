package mpwbuild

import (
	"fmt"
	"os"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"golang.org/x/term"
)

// pageLines shows lines in a scrollable TUI when stdout is a TTY and
// the content does not fit the terminal; otherwise it prints them
// plainly.
func pageLines(title string, lines []string) error {
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		for _, line := range lines {
			fmt.Println(line)
		}
		return nil
	}

	// Short content fits without paging; the 2 accounts for the border.
	_, height, err := term.GetSize(fd)
	if err == nil && len(lines) <= height-2 {
		for _, line := range lines {
			fmt.Println(line)
		}
		return nil
	}

	app := tview.NewApplication()

	textView := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWrap(false)
	textView.SetBorder(true).SetTitle(" " + title + " ")

	ansiWriter := tview.ANSIWriter(textView)
	fmt.Fprint(ansiWriter, strings.Join(lines, "\n"))

	footer := tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter).
		SetText("[gray]Scroll with ↑/↓, j/k, PgUp/PgDn, g/G. Press 'q' or 'Esc' to quit.[white]")

	flex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(textView, 0, 1, true).
		AddItem(footer, 1, 0, false)

	app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyEsc, tcell.KeyCtrlQ:
			app.Stop()
			return nil
		case tcell.KeyRune:
			row, _ := textView.GetScrollOffset()
			switch event.Rune() {
			case 'q':
				app.Stop()
				return nil
			case 'j':
				textView.ScrollTo(row+1, 0)
				return nil
			case 'k':
				if row > 0 {
					textView.ScrollTo(row-1, 0)
				}
				return nil
			case 'g':
				textView.ScrollToBeginning()
				return nil
			case 'G':
				textView.ScrollToEnd()
				return nil
			}
		}
		return event
	})

	if err := app.SetRoot(flex, true).SetFocus(textView).Run(); err != nil {
		return fmt.Errorf("pager execution failed: %w", err)
	}
	return nil
}
