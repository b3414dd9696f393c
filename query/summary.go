package query

import (
	"strings"

	"github.com/DataDog/go-sqllexer"
)

// summarize extracts the command and table names of a statement for logs
// and metrics. It works on text the parser rejects.
func summarize(text string) (string, []string) {
	normalizer := sqllexer.NewNormalizer(
		sqllexer.WithCollectTables(true),
		sqllexer.WithCollectCommands(true),
		sqllexer.WithCollectComments(false),
	)
	_, meta, err := normalizer.Normalize(text)
	if err != nil || meta == nil || len(meta.Commands) == 0 {
		return "UNKNOWN", nil
	}
	return strings.ToUpper(meta.Commands[0]), meta.Tables
}
