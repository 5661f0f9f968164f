package main

import (
	"flag"
	"log"
	"os"
	"strconv"
	"strings"
	"syscall"
)

// 外部轮转日志后执行，通知守护进程重新打开日志文件
func main() {
	pidFile := flag.String("pid", "pipeline.pid", "守护进程 pid 文件")
	flag.Parse()

	data, err := os.ReadFile(*pidFile)
	if err != nil {
		log.Fatal("Failed to read pid file:", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		log.Fatalf("Invalid pid in %s: %q", *pidFile, data)
	}

	// 向守护进程发送 SIGHUP
	if err := syscall.Kill(pid, syscall.SIGHUP); err != nil {
		log.Fatal("Failed to send SIGHUP:", err)
	}
}
