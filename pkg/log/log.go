package log

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
)

var (
	// 日志级别
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
	LevelFatal = "fatal"
)

var levelRank = map[string]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
	LevelFatal: 4,
}

var (
	mu sync.RWMutex

	// 日志实例
	debugLogger *log.Logger
	infoLogger  *log.Logger
	warnLogger  *log.Logger
	errorLogger *log.Logger
	fatalLogger *log.Logger

	// 当前日志级别
	currentRank int

	// 日志输出, 标准输出留给数据流
	logWriter io.Writer = os.Stderr
)

func init() {
	setup(LevelInfo, os.Stderr)
}

// Init 初始化日志
func Init(level, logFile string) error {
	level = strings.ToLower(level)
	if _, ok := levelRank[level]; !ok {
		return fmt.Errorf("unknown log level: %q", level)
	}

	var w io.Writer = os.Stderr
	if logFile != "" {
		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		w = io.MultiWriter(os.Stderr, file)
	}

	setup(level, w)
	return nil
}

// SetOutput 替换日志输出, 保留当前级别
func SetOutput(w io.Writer) {
	setup(Level(), w)
}

// Level 返回当前日志级别
func Level() string {
	mu.RLock()
	defer mu.RUnlock()
	for name, rank := range levelRank {
		if rank == currentRank {
			return name
		}
	}
	return LevelInfo
}

func setup(level string, w io.Writer) {
	mu.Lock()
	defer mu.Unlock()

	currentRank = levelRank[level]
	logWriter = w

	// 创建日志实例
	debugLogger = log.New(logWriter, "[DEBUG] ", log.LstdFlags|log.Lshortfile)
	infoLogger = log.New(logWriter, "[INFO] ", log.LstdFlags)
	warnLogger = log.New(logWriter, "[WARN] ", log.LstdFlags)
	errorLogger = log.New(logWriter, "[ERROR] ", log.LstdFlags|log.Lshortfile)
	fatalLogger = log.New(logWriter, "[FATAL] ", log.LstdFlags|log.Lshortfile)
}

// output 按级别过滤后输出, calldepth 指向调用方
func output(rank int, l func() *log.Logger, s string) {
	mu.RLock()
	enabled := rank >= currentRank
	logger := l()
	mu.RUnlock()
	if enabled {
		logger.Output(3, s)
	}
}

// Debug 输出调试日志
func Debug(v ...interface{}) {
	output(0, func() *log.Logger { return debugLogger }, fmt.Sprintln(v...))
}

// Debugf 输出格式化调试日志
func Debugf(format string, v ...interface{}) {
	output(0, func() *log.Logger { return debugLogger }, fmt.Sprintf(format, v...))
}

// Info 输出信息日志
func Info(v ...interface{}) {
	output(1, func() *log.Logger { return infoLogger }, fmt.Sprintln(v...))
}

// Infof 输出格式化信息日志
func Infof(format string, v ...interface{}) {
	output(1, func() *log.Logger { return infoLogger }, fmt.Sprintf(format, v...))
}

// Warn 输出警告日志
func Warn(v ...interface{}) {
	output(2, func() *log.Logger { return warnLogger }, fmt.Sprintln(v...))
}

// Warnf 输出格式化警告日志
func Warnf(format string, v ...interface{}) {
	output(2, func() *log.Logger { return warnLogger }, fmt.Sprintf(format, v...))
}

// Error 输出错误日志
func Error(v ...interface{}) {
	output(3, func() *log.Logger { return errorLogger }, fmt.Sprintln(v...))
}

// Errorf 输出格式化错误日志
func Errorf(format string, v ...interface{}) {
	output(3, func() *log.Logger { return errorLogger }, fmt.Sprintf(format, v...))
}

// Fatal 输出致命错误日志并退出
func Fatal(v ...interface{}) {
	output(4, func() *log.Logger { return fatalLogger }, fmt.Sprintln(v...))
	os.Exit(1)
}

// Fatalf 输出格式化致命错误日志并退出
func Fatalf(format string, v ...interface{}) {
	output(4, func() *log.Logger { return fatalLogger }, fmt.Sprintf(format, v...))
	os.Exit(1)
}
