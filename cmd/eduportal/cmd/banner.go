package cmd

import (
	"fmt"
)

const banner = `
           _                        _        _
   ___  __| |_   _ _ __   ___  _ __| |_ __ _| |
  / _ \/ _` + "`" + ` | | | | '_ \ / _ \| '__| __/ _` + "`" + ` | |
 |  __/ (_| | |_| | |_) | (_) | |  | || (_| | |
  \___|\__,_|\__,_| .__/ \___/|_|   \__\__,_|_|
                  |_|
`

func printBanner() {
	fmt.Printf("\x1b[34m%s\x1b[0m", banner)
	fmt.Printf("\x1b[32m  Student Portal for TOTVS EduConnect - Version %s\x1b[0m\n\n", Version)
}
