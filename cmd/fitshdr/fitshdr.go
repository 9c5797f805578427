// fitshdr dumps the primary header of FITS files, for eyeballing
// keyword conventions before configuring a reduction.
package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/mkendrick/ccdred/pkg/framedata"
)

var fKeyword string

func init() {
	flag.StringVar(&fKeyword, "k", "", "print just this keyword's value")
	flag.Parse()
}

func main() {
	if flag.NArg() == 0 {
		log.Fatal("usage: fitshdr [-k KEYWORD] file.fits ...")
	}

	for _, path := range flag.Args() {
		hdr, err := framedata.ReadHeaderFile(path)
		if err != nil {
			log.Fatalf("%s: %v", path, err)
		}

		if fKeyword != "" {
			v, ok := hdr.Get(fKeyword)
			if !ok {
				v = ""
			}
			fmt.Printf("%s: %v\n", path, v)
			continue
		}

		fmt.Printf("== %s\n", path)
		for _, name := range hdr.Keys() {
			card, _ := hdr.Card(name)
			if card.Comment != "" {
				fmt.Printf("%-8s = %-20v / %s\n", card.Name, card.Value, card.Comment)
			} else {
				fmt.Printf("%-8s = %v\n", card.Name, card.Value)
			}
		}
	}
}
