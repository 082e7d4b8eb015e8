// Copyright 2026 The RunHAL Authors. SPDX-License-Identifier: Apache-2.0

// rimg inspects relocatable image files and optionally loads and invokes
// their entry points on a matching host.
//
// Usage:
//
//	rimg [flags] <image-file>
//
// With no report flags it prints the image summary plus the segment, export
// and relocation tables. With -invoke it maps the image into the process,
// applies relocations and calls the named entry point with a nil argument.
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"k8s.io/klog/v2"

	"github.com/scottamain/iree-sub001/internal/must"
	"github.com/scottamain/iree-sub001/loader"
)

var (
	flagSegments = flag.Bool("segments", false, "List the segment table only.")
	flagExports  = flag.Bool("exports", false, "List the export table only.")
	flagRelocs   = flag.Bool("relocs", false, "List the relocation table only.")

	flagLoad = flag.Bool("load", false, "Map and relocate the image on the host "+
		"to verify it loads, without invoking anything.")
	flagInvoke = flag.String("invoke", "", "Load the image and invoke the named "+
		"entry point with a nil argument, printing its return code.")
	flagSymbols = flag.String("symbols", "", "Comma-separated name=hexaddr pairs "+
		"resolving the image's external symbols, e.g. 'sinf=0x7f0012340000'.")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		klog.Errorf("Missing image file to read. See 'rimg -help'.")
		os.Exit(1)
	}
	if len(args) > 1 {
		klog.Errorf("Too many arguments. See 'rimg -help'.")
		os.Exit(1)
	}

	raw := must.M1(os.ReadFile(args[0]))
	img, err := loader.ParseImage(raw)
	if err != nil {
		klog.Errorf("%s: %+v", args[0], err)
		os.Exit(1)
	}

	all := !*flagSegments && !*flagExports && !*flagRelocs
	if all {
		fmt.Printf("%s: %s image, %s in file, %s mapped\n", args[0], img.Arch,
			humanize.IBytes(uint64(len(raw))), humanize.IBytes(img.MappedSize()))
	}
	if all || *flagSegments {
		reportSegments(img)
	}
	if all || *flagExports {
		reportExports(img)
	}
	if all || *flagRelocs {
		reportRelocs(img)
	}

	if *flagLoad || *flagInvoke != "" {
		runImage(raw)
	}
}

func reportSegments(img *loader.Image) {
	fmt.Printf("Segments (%d):\n", len(img.Segments))
	for i, seg := range img.Segments {
		fmt.Printf("  [%d] %s virt=0x%06x mem=%-8s file=0x%06x+%s\n",
			i, seg.Perms, seg.VirtOffset, humanize.IBytes(seg.MemSize),
			seg.FileOffset, humanize.IBytes(uint64(seg.FileSize)))
	}
}

func reportExports(img *loader.Image) {
	fmt.Printf("Exports (%d):\n", len(img.Exports))
	for i, exp := range img.Exports {
		fmt.Printf("  [%d] %-24s seg=%d offset=0x%x\n", i, exp.Name, exp.Segment, exp.Offset)
	}
}

func reportRelocs(img *loader.Image) {
	fmt.Printf("Relocations (%d):\n", len(img.Relocs))
	for i, rel := range img.Relocs {
		fmt.Printf("  [%d] %-12s at seg=%d+0x%x -> %s addend=%d\n",
			i, rel.Kind, rel.Segment, rel.Offset, symbolString(rel.Sym), rel.Addend)
	}
}

func symbolString(sym loader.SymbolRef) string {
	if sym.Internal {
		return fmt.Sprintf("seg=%d+0x%x", sym.Segment, sym.Offset)
	}
	return fmt.Sprintf("extern %q", sym.Name)
}

func runImage(raw []byte) {
	exec, err := loader.Load(raw, loader.Options{Symbols: parseSymbols(*flagSymbols)})
	if err != nil {
		klog.Errorf("Load failed: %+v", err)
		os.Exit(1)
	}
	defer func() { must.M(exec.Close()) }()
	fmt.Printf("Loaded for %s, %d entry points.\n", exec.Arch(), len(exec.EntryPoints()))

	if *flagInvoke == "" {
		return
	}
	ep, err := exec.Lookup(*flagInvoke)
	if err != nil {
		klog.Errorf("%+v", err)
		os.Exit(1)
	}
	ret, err := exec.Invoke(ep, nil)
	if err != nil {
		klog.Errorf("Invoke %q failed: %+v", *flagInvoke, err)
		os.Exit(1)
	}
	fmt.Printf("%s returned %d\n", *flagInvoke, ret)
}

// parseSymbols turns "name=0xADDR,name2=0xADDR" into a resolution table.
func parseSymbols(spec string) map[string]uintptr {
	if spec == "" {
		return nil
	}
	symbols := make(map[string]uintptr)
	for _, pair := range strings.Split(spec, ",") {
		name, addr, found := strings.Cut(pair, "=")
		if !found {
			klog.Errorf("Invalid -symbols entry %q, want name=hexaddr.", pair)
			os.Exit(1)
		}
		value, err := strconv.ParseUint(addr, 0, 64)
		if err != nil {
			klog.Errorf("Invalid -symbols address in %q: %v", pair, err)
			os.Exit(1)
		}
		symbols[name] = uintptr(value)
	}
	return symbols
}
