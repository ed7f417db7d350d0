package bloggart

import (
	"embed"
	"io/fs"
)

// embeddedAssets holds the stylesheet and other files served under
// /static/ when no rendered document claims the path.
//
//go:embed assets/*
var embeddedAssets embed.FS

func assetsFS() fs.FS {
	sub, err := fs.Sub(embeddedAssets, "assets")
	if err != nil {
		panic(err)
	}
	return sub
}
