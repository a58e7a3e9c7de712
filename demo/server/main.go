package main

import (
	"flag"
	"log"
	"net/http"
)

func main() {
	dir := flag.String("dir", "./data", "directory holding .fgb point layers written by lidarfetch")
	addr := flag.String("addr", ":8080", "listen address")
	origins := flag.String("cors", "*", "comma separated list of allowed CORS origins")
	flag.Parse()

	r := newRouter(*dir, splitOrigins(*origins))

	log.Printf("Server starting on http://localhost%s", *addr)
	log.Println("Serving point layers from:", *dir)
	log.Fatal(http.ListenAndServe(*addr, r))
}
