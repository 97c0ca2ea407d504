package transfer

import (
	"embed"
	"fmt"
	"strings"
	"text/template"
)

//go:embed templates/*.sh.tmpl
var templateFS embed.FS

var scripts = template.Must(template.ParseFS(templateFS, "templates/*.sh.tmpl"))

func render(name string, data any) (string, error) {
	var out strings.Builder
	if err := scripts.ExecuteTemplate(&out, name, data); err != nil {
		return "", fmt.Errorf("failed to render job script %s: %w", name, err)
	}
	return out.String(), nil
}

// renderScript wraps a shell line into the generic transfer job script.
func renderScript(body, directives string) (string, error) {
	return render("job.sh.tmpl", map[string]string{
		"Directives": directives,
		"Body":       body,
	})
}

// s3PullScript is the job that waits for the user's object and pulls it
// onto the cluster.
type s3PullScript struct {
	Directives   string
	HeadURL      string
	GetURL       string
	TargetPath   string
	Attempts     int
	SleepSeconds int
}

// s3PushPart is one presigned part upload of the push script.
type s3PushPart struct {
	Number int
	Skip   int
	URL    string
}

// s3PushScript is the job that uploads the source file into the staging
// bucket as a multipart upload.
type s3PushScript struct {
	Directives  string
	SourcePath  string
	PartSize    int64
	Parts       []s3PushPart
	CompleteURL string
}
