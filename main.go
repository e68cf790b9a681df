package main

import (
	"log"
	"os"

	"github.com/jeamon/book-ratings/docs"
)

// Build informations injected with -ldflags at compile time.
var (
	GitCommit string
	GitTag    string
	BuildTime string
)

//	@title			Book Ratings API
//	@version		1.0
//	@description	Books catalog with cover images and one rating per user.
//	@BasePath		/

//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization

func main() {
	if GitTag != "" {
		docs.SwaggerInfo.Version = GitTag
	}

	app, err := NewApp()
	if err != nil {
		log.Printf("application failed to initialize: %v", err)
		os.Exit(1)
	}
	if err = app.Run(); err != nil {
		log.Printf("application exited with error, check the logs for details: %v", err)
		os.Exit(1)
	}
}
