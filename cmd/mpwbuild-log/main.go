package main

import "mpwbuild/internal/mpwbuild"

func main() {
	mpwbuild.LogMain()
}
