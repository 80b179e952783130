package utils

const DefaultBufferSize = 1024 * 1024 * 2 // 2MB buffer

const ToolUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/128.0.0.0 Safari/537.36 Edg/128.0.0.0"

// DefaultHeaders are sent with every request unless overridden per request.
var DefaultHeaders = map[string]string{
	"Accept-Language": "zh-CN,zh;q=0.9,en-US;q=0.8,en;q=0.7,en-GB;q=0.6",
	"Cache-Control":   "no-cache",
}

const LogFileName = "build_helper.log"
