package document

import (
	"bytes"
	"html/template"
	"strings"
	"time"

	"github.com/TheSeeker/Sone-sub000/internal/sone"
)

var pageTemplate = template.Must(template.New("page").Funcs(template.FuncMap{
	"date": func(t time.Time) string { return t.UTC().Format("2006-01-02 15:04") },
}).Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Name}}</title>
</head>
<body>
<h1>{{.Name}}</h1>
{{with .FullName}}<p class="name">{{.}}</p>{{end}}
{{with .Fields}}<dl class="profile">
{{range .}}<dt>{{.Name}}</dt><dd>{{.Value}}</dd>
{{end}}</dl>{{end}}
<div class="posts">
{{range .Posts}}<div class="post" id="{{.ID}}">
<p class="time">{{date .Time}}</p>
<p class="text">{{.Text}}</p>
{{range index $.Replies .ID}}<div class="reply" id="{{.ID}}"><p class="time">{{date .Time}}</p><p class="text">{{.Text}}</p></div>
{{end}}</div>
{{end}}</div>
</body>
</html>
`))

type pageData struct {
	Name     string
	FullName string
	Fields   []sone.Field
	Posts    []sone.Post
	Replies  map[string][]sone.Reply
}

// renderPage produces the human-viewable rendering of a snapshot: newest posts
// first, each followed by its replies in order.
func renderPage(s sone.Sone) ([]byte, error) {
	data := pageData{
		Name:    s.Name,
		Fields:  s.Profile.Fields(),
		Posts:   append([]sone.Post(nil), s.Posts...),
		Replies: make(map[string][]sone.Reply),
	}
	if data.Name == "" {
		data.Name = s.ID
	}
	var parts []string
	for _, n := range []string{s.Profile.FirstName, s.Profile.MiddleName, s.Profile.LastName} {
		if n != "" {
			parts = append(parts, n)
		}
	}
	data.FullName = strings.Join(parts, " ")

	sone.SortPostsByTime(data.Posts)
	for i, j := 0, len(data.Posts)-1; i < j; i, j = i+1, j-1 {
		data.Posts[i], data.Posts[j] = data.Posts[j], data.Posts[i]
	}
	replies := append([]sone.Reply(nil), s.Replies...)
	sone.SortRepliesNewestFirst(replies)
	for i := len(replies) - 1; i >= 0; i-- {
		r := replies[i]
		data.Replies[r.PostID] = append(data.Replies[r.PostID], r)
	}

	var buf bytes.Buffer
	if err := pageTemplate.Execute(&buf, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
