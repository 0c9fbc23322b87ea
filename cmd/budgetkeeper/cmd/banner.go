package cmd

import (
	"fmt"
)

const banner = `
  ____            _            _   _                              
 | __ ) _   _  __| | __ _  ___| |_| | _____  ___ _ __   ___ _ __ 
 |  _ \| | | |/ _` + "`" + ` |/ _` + "`" + ` |/ _ \ __| |/ / _ \/ _ \ '_ \ / _ \ '__|
 | |_) | |_| | (_| | (_| |  __/ |_|   <  __/  __/ |_) |  __/ |   
 |____/ \__,_|\__,_|\__, |\___|\__|_|\_\___|\___| .__/ \___|_|   
                    |___/                       |_|              
`

func printBanner() {
	fmt.Printf("\x1b[34m%s\x1b[0m", banner)
	fmt.Printf("\x1b[32m  Budget Tracker Auth Service - Version %s\x1b[0m\n\n", Version)
}
