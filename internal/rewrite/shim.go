package rewrite

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ShimMarker identifies an injected shim so a page is never patched twice.
const ShimMarker = "data-origin-relay-shim"

// shimTemplate patches location.assign, location.replace, window.open and
// fetch so URLs built at runtime against the origin land on the relay prefix.
// Placeholders: origin host as char codes, prefix as a JSON string. The host
// is assembled at runtime so the page never contains it literally and the
// URL rules never match inside the shim itself.
const shimTemplate = `<script ` + ShimMarker + `>(function(){` +
	`var H=String.fromCharCode(%s),P=%s,O=["https://"+H,"http://"+H,"//"+H];` +
	`function f(u){if(typeof u!=="string")return u;` +
	`for(var i=0;i<O.length;i++){var o=O[i];` +
	`if(u.indexOf(o+P)===0&&(u.length===o.length+P.length||"/?#".indexOf(u.charAt(o.length+P.length))>=0))return u.slice(o.length);` +
	`if(u.indexOf(o)===0)return P+u.slice(o.length);}return u}` +
	`var L=window.location;` +
	`try{var a=L.assign.bind(L);L.assign=function(u){return a(f(u))}}catch(e){}` +
	`try{var r=L.replace.bind(L);L.replace=function(u){return r(f(u))}}catch(e){}` +
	`var w=window.open;if(w){window.open=function(u){var g=Array.prototype.slice.call(arguments);g[0]=f(u);return w.apply(window,g)}}` +
	`var F=window.fetch;if(F){window.fetch=function(q,n){` +
	`if(typeof q==="string"){q=f(q)}else if(typeof Request!=="undefined"&&q instanceof Request){var m=f(q.url);if(m!==q.url){q=new Request(m,q)}}` +
	`return F.call(window,q,n)}}` +
	`})();</script>`

func buildShim(host, prefix string) string {
	codes := make([]string, 0, len(host))
	for _, r := range host {
		codes = append(codes, strconv.Itoa(int(r)))
	}
	p, _ := json.Marshal(prefix)
	return fmt.Sprintf(shimTemplate, strings.Join(codes, ","), p)
}

// shimRule inserts the shim before the first closing head tag.
func shimRule(shim string) Rule {
	return Rule{
		Name:  "inject-shim",
		Kinds: Kinds(KindHTML),
		Apply: func(text string) string {
			if strings.Contains(text, ShimMarker) {
				return text
			}
			i := indexFold(text, "</head>")
			if i < 0 {
				return text
			}
			return text[:i] + shim + text[i:]
		},
	}
}

// indexFold is a case-insensitive strings.Index for an ASCII needle.
func indexFold(s, needle string) int {
	n := len(needle)
	for i := 0; i+n <= len(s); i++ {
		if strings.EqualFold(s[i:i+n], needle) {
			return i
		}
	}
	return -1
}
