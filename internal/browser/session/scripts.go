// internal/browser/session/scripts.go
package session

import (
	"fmt"

	json "github.com/json-iterator/go"
)

// refAttr tags located elements so later calls can find them again without
// holding remote object handles.
const refAttr = "data-sp-ref"

const locateJS = `(function(kind, expr, text, gen) {
  var nodes = [];
  if (kind === "xpath") {
    var r = document.evaluate(expr, document, null, XPathResult.ORDERED_NODE_SNAPSHOT_TYPE, null);
    for (var i = 0; i < r.snapshotLength; i++) {
      var n = r.snapshotItem(i);
      if (n.nodeType === 1) nodes.push(n);
    }
  } else {
    nodes = Array.prototype.slice.call(document.querySelectorAll(expr));
  }
  var want = text ? text.replace(/\s+/g, " ").trim().toLowerCase() : "";
  if (window.__spGen !== gen) { window.__spGen = gen; window.__spSeq = 0; }
  var prefix = "g" + gen + "-";
  var out = [];
  nodes.forEach(function(el) {
    if (want) {
      var t = (el.tagName === "INPUT" && /^(button|submit|reset)$/i.test(el.type)) ? el.value : el.textContent;
      if ((t || "").replace(/\s+/g, " ").toLowerCase().indexOf(want) < 0) return;
    }
    var id = el.getAttribute("` + refAttr + `");
    if (!id || id.indexOf(prefix) !== 0) {
      window.__spSeq += 1;
      id = prefix + "e" + window.__spSeq;
      el.setAttribute("` + refAttr + `", id);
    }
    out.push(id);
  });
  return out;
})(%s, %s, %s, %d)`

const elementJS = `(function(id, arg) {
  var el = document.querySelector('[` + refAttr + `="' + id + '"]');
  if (!el) return {stale: true};
  %s
})(%s, %s)`

// Element script bodies. Each returns {value: ...} or {error: "..."}.
const (
	styleBody = `var cs = getComputedStyle(el);
  return {value: {color: cs.color, backgroundColor: cs.backgroundColor}};`

	attributeBody = `return {value: {ok: el.hasAttribute(arg), v: el.getAttribute(arg) || ""}};`

	textBody = `return {value: el.textContent || ""};`

	visibleBody = `var cs = getComputedStyle(el);
  var shown = cs.display !== "none" && cs.visibility !== "hidden" && cs.visibility !== "collapse";
  return {value: shown && el.getClientRects().length > 0};`

	enabledBody = `return {value: !el.disabled};`

	centerBody = `el.scrollIntoView({block: "center", inline: "center"});
  var r = el.getBoundingClientRect();
  return {value: {x: r.left + r.width / 2, y: r.top + r.height / 2}};`

	forceClickBody = `el.click(); return {value: true};`

	fillBody = `var tag = el.tagName;
  if (tag !== "INPUT" && tag !== "TEXTAREA") return {error: "element <" + tag.toLowerCase() + "> cannot be filled"};
  el.focus();
  el.value = arg;
  el.dispatchEvent(new Event("input", {bubbles: true}));
  el.dispatchEvent(new Event("change", {bubbles: true}));
  return {value: true};`

	selectBody = `if (el.tagName !== "SELECT") return {error: "element <" + el.tagName.toLowerCase() + "> is not a select element"};
  for (var i = 0; i < el.options.length; i++) {
    if (el.options[i].value === arg) {
      el.selectedIndex = i;
      el.dispatchEvent(new Event("input", {bubbles: true}));
      el.dispatchEvent(new Event("change", {bubbles: true}));
      return {value: true};
    }
  }
  return {error: "option \"" + arg + "\" not found in select element"};`
)

const (
	viewportJS   = `({width: window.innerWidth, height: window.innerHeight})`
	readyStateJS = `document.readyState`
)

func locateScript(kind, expr, text string, generation uint64) (string, error) {
	args, err := jsArgs(kind, expr, text)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(locateJS, args[0], args[1], args[2], generation), nil
}

func elementScript(id, body string, arg interface{}) (string, error) {
	args, err := jsArgs(id, arg)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(elementJS, body, args[0], args[1]), nil
}

// jsArgs renders values as JavaScript literals.
func jsArgs(values ...interface{}) ([]string, error) {
	out := make([]string, len(values))
	for i, v := range values {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to encode script argument: %w", err)
		}
		out[i] = string(b)
	}
	return out, nil
}
