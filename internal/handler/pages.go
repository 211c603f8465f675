package handler

import (
	"bytes"
	"html/template"
	"log/slog"
	"net/http"
)

var pageTemplate = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html lang="ja">
<head>
<meta charset="utf-8">
<title>{{.Title}} | authgate</title>
</head>
<body>
<main data-page="{{.Name}}">
<h1>{{.Title}}</h1>
</main>
</body>
</html>
`))

type pageData struct {
	Name  string
	Title string
}

// pages はプレースホルダーページの一覧。キーはパス。
var pages = map[string]pageData{
	"/":                {Name: "root", Title: "authgate"},
	"/login":           {Name: "login", Title: "ログイン"},
	"/register":        {Name: "register", Title: "ユーザー登録"},
	"/forgot-password": {Name: "forgot-password", Title: "パスワードをお忘れの方"},
	"/reset-password":  {Name: "reset-password", Title: "パスワード再設定"},
	"/dashboard":       {Name: "dashboard", Title: "ダッシュボード"},
}

// newPageHandler はプレースホルダーHTMLを返すハンドラーを生成する。
func newPageHandler(data pageData) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var buf bytes.Buffer
		if err := pageTemplate.Execute(&buf, data); err != nil {
			slog.Error("failed to render page",
				slog.String("page", data.Name),
				slog.String("error", err.Error()),
			)
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		buf.WriteTo(w)
	}
}
