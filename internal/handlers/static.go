package handlers

import (
	"net/http"
	"path"

	"github.com/spf13/afero"
)

// NewStaticHandler отдает статические файлы сайта из fsys. Содержимое
// каталогов не показывается. Монтируется через http.StripPrefix.
func NewStaticHandler(fsys afero.Fs) http.Handler {
	files := http.FileServer(afero.NewHttpFs(fsys).Dir("/"))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Clean не дает выйти за корень fsys
		name := path.Clean("/" + r.URL.Path)
		if info, err := fsys.Stat(name); err != nil || info.IsDir() {
			NotFound(w, r)
			return
		}
		files.ServeHTTP(w, r)
	})
}
