package app

import (
	"bufio"
	"regexp"
	"strings"

	"github.com/jung-kurt/gofpdf"
)

var linkRe = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`)

// writeSimplePDF renders a report PDF from Markdown text. Headings are bold,
// fenced blocks are set in Courier line by line and [text](url) becomes a
// clickable link. It is not a general Markdown renderer.
func writeSimplePDF(markdown string, outPath string) error {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Helvetica", "", 11)
	pdf.AddPage()
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	scanner := bufio.NewScanner(strings.NewReader(markdown))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	fence := ""
	for scanner.Scan() {
		line := scanner.Text()
		s := strings.TrimSpace(line)

		if fence != "" {
			if s == fence {
				fence = ""
				pdf.SetFont("Helvetica", "", 11)
				pdf.Ln(3)
				continue
			}
			pdf.MultiCell(0, 4, tr(strings.ReplaceAll(line, "\t", "    ")), "", "L", false)
			continue
		}
		if strings.HasPrefix(s, "```") {
			fence = strings.TrimRight(s, "abcdefghijklmnopqrstuvwxyz+")
			pdf.SetFont("Courier", "", 9)
			continue
		}
		if s == "" {
			pdf.Ln(5)
			continue
		}
		if s == "---" {
			pdf.Ln(2)
			continue
		}
		if strings.HasPrefix(s, "#") {
			i := 0
			for i < len(s) && s[i] == '#' {
				i++
			}
			text := strings.TrimSpace(s[i:])
			if text == "" {
				continue
			}
			size := 14.0
			if i >= 2 {
				size = 12.0
			}
			pdf.SetFont("Helvetica", "B", size)
			pdf.CellFormat(0, 8, tr(text), "", 1, "L", false, 0, "")
			pdf.SetFont("Helvetica", "", 11)
			continue
		}
		parts := linkRe.FindAllStringSubmatchIndex(s, -1)
		if len(parts) == 0 {
			pdf.MultiCell(0, 5, tr(s), "", "L", false)
			continue
		}
		pos := 0
		for _, m := range parts {
			// m: [fullStart, fullEnd, textStart, textEnd, urlStart, urlEnd]
			if m[0] > pos {
				pdf.Write(5, tr(s[pos:m[0]]))
			}
			pdf.WriteLinkString(5, tr(s[m[2]:m[3]]), s[m[4]:m[5]])
			pos = m[1]
		}
		if pos < len(s) {
			pdf.Write(5, tr(s[pos:]))
		}
		pdf.Ln(6)
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return pdf.OutputFileAndClose(outPath)
}
