package main

import (
	"net/http"

	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"
)

// ServeImage streams a stored image. Names are plain file names, anything
// looking like a path is rejected by the image handler.
func (api *APIHandler) ServeImage(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	name := ps.ByName("name")
	f, err := api.images.Open(name)
	if err != nil {
		api.sendError(w, r, err, "failed to get the image", zap.String("image.ref", name))
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		api.sendError(w, r, err, "failed to get the image", zap.String("image.ref", name))
		return
	}

	// large files on slow links can need more than the default write timeout.
	if api.config.Server.WriteTimeout > 0 {
		rc := http.NewResponseController(w)
		if err = rc.SetWriteDeadline(api.clock.Now().Add(api.config.Server.WriteTimeout)); err != nil {
			api.GetLoggerFromContext(r.Context()).Debug("http: failed to update the write deadline", zap.Error(err))
		}
	}

	w.Header().Set("Cache-Control", "public, max-age=86400")
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}
